package overture

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolContext carries the identity of the turn a tool runs inside. Tools use
// it to resolve file paths, attribute side effects, and record metadata.
type ToolContext struct {
	ProjectID   string
	ProjectPath string
	SessionID   string
	MessageID   string
	UserID      string

	// Metadata, when non-nil, receives per-call annotations a tool wants
	// surfaced alongside its result part.
	Metadata func(key string, value any)
}

// ToolOutput is what a tool returns on success. Title is a short
// human-readable summary; Output is the full text handed back to the model.
type ToolOutput struct {
	Title  string `json:"title,omitempty"`
	Output string `json:"output"`
}

// ToolBinding is a tool made concrete for one turn: its schema plus an
// Invoke closure already bound to the turn's ToolContext.
type ToolBinding struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Invoke      func(ctx context.Context, input json.RawMessage) (ToolOutput, error)
}

// ToolSource supplies the available tool set. Bind materialises the named
// tools for a turn; names absent from the source are skipped silently.
type ToolSource interface {
	Names() []string
	Bind(names []string, tc ToolContext) []ToolBinding
}

// NopToolSource has no tools.
type NopToolSource struct{}

func (NopToolSource) Names() []string                          { return nil }
func (NopToolSource) Bind([]string, ToolContext) []ToolBinding { return nil }

// codeExecutionTools are stripped from the tool set when the caller has not
// granted code execution for the turn.
var codeExecutionTools = map[string]bool{
	"bash":    true,
	"service": true,
}

// DeclaresCodeExecution reports whether an agent's declared tool list
// includes a code-executing tool. An empty declaration resolves to the full
// registry, which includes them.
func DeclaresCodeExecution(declared []string) bool {
	if len(declared) == 0 {
		return true
	}
	for _, n := range declared {
		if codeExecutionTools[n] {
			return true
		}
	}
	return false
}

// FilterCodeExecution removes code-executing tool names unless allowed.
func FilterCodeExecution(names []string, allowed bool) []string {
	if allowed {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !codeExecutionTools[n] {
			out = append(out, n)
		}
	}
	return out
}

// ResolveTools intersects an agent's declared tool list with the names a
// source actually offers. An empty declaration means the full set. The
// result is sorted for deterministic prompts.
func ResolveTools(declared, available []string) []string {
	avail := make(map[string]bool, len(available))
	for _, n := range available {
		avail[n] = true
	}
	var out []string
	if len(declared) == 0 {
		out = append(out, available...)
	} else {
		for _, n := range declared {
			if avail[n] {
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out
}

// TaskToolName is the reserved tool the orchestrator intercepts to spawn
// sub-agents. It never reaches the external tool source and is never offered
// inside a child session.
const TaskToolName = "task"

// ModelRef optionally overrides the model a sub-agent task runs on.
type ModelRef struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
}

// TaskParams is the task tool's input schema.
type TaskParams struct {
	SubagentType    string    `json:"subagent_type"`
	Description     string    `json:"description"`
	Prompt          string    `json:"prompt"`
	MaxTurns        int       `json:"max_turns,omitempty"`
	Model           *ModelRef `json:"model,omitempty"`
	RunInBackground bool      `json:"run_in_background,omitempty"`
	Resume          string    `json:"resume,omitempty"`
}

// ParseTaskParams decodes and validates task tool input.
func ParseTaskParams(input json.RawMessage) (TaskParams, error) {
	var p TaskParams
	if err := json.Unmarshal(input, &p); err != nil {
		return p, fmt.Errorf("task: invalid input: %w", err)
	}
	if p.Resume != "" {
		return p, nil
	}
	var missing []string
	if strings.TrimSpace(p.SubagentType) == "" {
		missing = append(missing, "subagent_type")
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		return p, fmt.Errorf("task: missing required fields: %s", strings.Join(missing, ", "))
	}
	return p, nil
}

// taskToolDescription is offered to the model when sub-agents are available.
const taskToolDescription = `Launch a sub-agent to handle a delegated task in an isolated child session. ` +
	`Provide subagent_type (a registered agent name), a short description, and the full prompt. ` +
	`Set run_in_background to continue without waiting; pass resume with a prior child session id to re-attach.`

// taskToolParameters is the JSON schema for TaskParams.
var taskToolParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "subagent_type": {"type": "string", "description": "Registered agent name to run"},
    "description": {"type": "string", "description": "Short (3-5 word) task summary"},
    "prompt": {"type": "string", "description": "Full task prompt for the sub-agent"},
    "max_turns": {"type": "integer", "description": "Step ceiling override"},
    "model": {
      "type": "object",
      "properties": {
        "vendor": {"type": "string"},
        "model": {"type": "string"}
      }
    },
    "run_in_background": {"type": "boolean", "description": "Return immediately and run detached"},
    "resume": {"type": "string", "description": "Child session id to re-attach to"}
  },
  "required": ["subagent_type", "description", "prompt"]
}`)
