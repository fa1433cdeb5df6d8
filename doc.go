// Package overture is the execution core of a multi-agent coding assistant.
//
// Given a user utterance in an open session, it drives a language model
// through a tool-augmented reasoning loop, persists every intermediate event
// as ordered message parts, broadcasts those events to observers in real
// time, and may spawn child sessions ("sub-agents") that run in isolation
// while surfacing their progress back to the parent.
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Store] — narrow repository over sessions, messages, parts, and credentials
//   - [Bus] — best-effort broadcast of turn events per project
//   - [Provider] — single model invocation (complete + stream) for one vendor
//   - [ModelAdapter] — the multi-step streaming contract the Orchestrator drives
//   - [AdapterFactory] — builds a ModelAdapter from (vendor, model, credential)
//   - [ToolSource] — turns tool names plus an execution context into callable bindings
//   - [Tracer] — optional span emission (observer package provides OTel)
//
// # Turn Anatomy
//
// [Orchestrator.Run] validates the session, resolves the agent, persists the
// user and assistant messages, rebuilds the dialogue, assembles the tool set
// (intercepting the task tool into [SubAgentRunner]), and streams the model
// through [StreamProcessor], which materialises parts and broadcasts events.
//
// # Included Implementations
//
// Providers: provider/anthropic (API key and OAuth), provider/openaicompat
// (OpenAI, Ollama, and compatible APIs).
// Storage: store/postgres, store/sqlite, store/memory.
// Broadcast: bus/nats.
// Assembly: the engine package wires everything from a TOML config file.
package overture
