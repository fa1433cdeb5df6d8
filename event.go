package overture

import "encoding/json"

// EventType enumerates everything a model stream and the processor can emit.
type EventType string

const (
	EventMessageCreated EventType = "message.created"

	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventToolInputStart EventType = "tool-input-start"
	EventToolInputDelta EventType = "tool-input-delta"
	EventToolCall       EventType = "tool-call"
	EventToolResult     EventType = "tool-result"
	EventStepStart      EventType = "step-start"
	EventStepFinish     EventType = "step-finish"
	EventFinish         EventType = "finish"
	EventError          EventType = "error"
)

// StreamEvent is one element of a model stream as produced by a
// ModelAdapter. The processor consumes these in order, single-threaded.
type StreamEvent struct {
	Type       EventType       `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Step       int             `json:"step"`

	// Finish and error fields.
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        Usage        `json:"usage,omitempty"`
	ErrorType    string       `json:"error_type,omitempty"`
}

// Event is a StreamEvent anchored to its durable context, as broadcast on
// the bus and handed to per-turn observers.
type Event struct {
	StreamEvent

	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	PartID    string `json:"part_id,omitempty"`
}

// Bus broadcasts turn events to whoever is watching a project. Delivery is
// best effort; a failing bus must never fail a turn.
type Bus interface {
	Publish(projectID string, ev Event) error
}

// NopBus discards all events.
type NopBus struct{}

func (NopBus) Publish(string, Event) error { return nil }

// ObserverFunc receives every event of a single turn, in order. Used by the
// sub-agent runner to mirror child progress into the parent's stream.
type ObserverFunc func(Event)
