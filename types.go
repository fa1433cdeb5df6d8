package overture

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason is the normalised outcome of an assistant turn.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"

	// FinishCancelled marks a turn interrupted by context cancellation. It is
	// recorded as the message error type rather than a finish reason on the
	// wire, but kept here so both sides use one constant.
	FinishCancelled FinishReason = "cancelled"
)

// NormalizeFinishReason folds a provider-reported stop reason into the
// four-value vocabulary. Unknown or empty values normalise to stop.
func NormalizeFinishReason(s string) FinishReason {
	switch s {
	case "stop", "end_turn", "stop_sequence", "completed":
		return FinishStop
	case "tool-calls", "tool_calls", "tool_use", "function_call":
		return FinishToolCalls
	case "length", "max_tokens", "model_length":
		return FinishLength
	case "error", "content-filter", "content_filter", "refusal":
		return FinishError
	default:
		return FinishStop
	}
}

// Usage counts tokens for one model invocation or an accumulation of them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Session is a durable conversation. A session with a non-empty ParentID is a
// sub-agent child session and never offers the task tool.
type Session struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	AgentName    string    `json:"agent_name"`
	Vendor       string    `json:"vendor"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionStats is a delta applied atomically to a session's aggregates.
type SessionStats struct {
	Messages     int
	TokensInput  int
	TokensOutput int
	Cost         float64
}

// Message is one utterance in a session. Assistant messages carry the model
// identity, finish reason, usage, and cost once completed; a failed turn
// records ErrorType and ErrorMessage instead.
type Message struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	Role         Role         `json:"role"`
	ParentID     string       `json:"parent_id,omitempty"`
	AgentName    string       `json:"agent_name,omitempty"`
	Vendor       string       `json:"vendor,omitempty"`
	Model        string       `json:"model,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	TokensInput  int          `json:"tokens_input"`
	TokensOutput int          `json:"tokens_output"`
	Cost         float64      `json:"cost"`
	ErrorType    string       `json:"error_type,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// PartType discriminates the kinds of message parts a turn produces.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartFile       PartType = "file"
	PartStepStart  PartType = "step-start"
	PartStepFinish PartType = "step-finish"
)

// ToolStatus tracks the lifecycle of a tool-call part.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// MessagePart is one ordered fragment of an assistant message: a coalesced
// text run, a reasoning run, a tool call or its result, or a step marker.
// Parts are append-only; only Content (for open text runs) and Status (for
// tool calls) mutate after creation.
type MessagePart struct {
	ID         string          `json:"id"`
	MessageID  string          `json:"message_id"`
	SessionID  string          `json:"session_id"`
	Type       PartType        `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	Status     ToolStatus      `json:"status,omitempty"`
	Step       int             `json:"step"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AgentMode says where an agent may be used.
type AgentMode string

const (
	ModePrimary  AgentMode = "primary"  // top-level sessions only
	ModeSubagent AgentMode = "subagent" // task tool targets only
	ModeAll      AgentMode = "all"
)

// UsableAsPrimary reports whether the mode permits top-level use.
func (m AgentMode) UsableAsPrimary() bool { return m == ModePrimary || m == ModeAll || m == "" }

// UsableAsSubagent reports whether the mode permits use as a task target.
func (m AgentMode) UsableAsSubagent() bool { return m == ModeSubagent || m == ModeAll || m == "" }

// AgentDefinition describes a named agent persona: the model it prefers, the
// prompt fragment it contributes, and the tools it is allowed to use. An
// empty Tools list means the full registry.
type AgentDefinition struct {
	Name        string    `json:"name" toml:"name"`
	Description string    `json:"description" toml:"description"`
	Mode        AgentMode `json:"mode" toml:"mode"`
	Hidden      bool      `json:"hidden" toml:"hidden"`
	Vendor      string    `json:"vendor,omitempty" toml:"vendor"`
	Model       string    `json:"model,omitempty" toml:"model"`
	Temperature *float64  `json:"temperature,omitempty" toml:"temperature"`
	TopP        *float64  `json:"top_p,omitempty" toml:"top_p"`
	MaxSteps    int       `json:"max_steps,omitempty" toml:"max_steps"`
	Prompt      string    `json:"prompt,omitempty" toml:"prompt"`
	Tools       []string  `json:"tools,omitempty" toml:"tools"`
	BuiltIn     bool      `json:"built_in" toml:"-"`
}

// TurnResult summarises a completed turn for the caller.
type TurnResult struct {
	MessageID    string       `json:"message_id"`
	SessionID    string       `json:"session_id"`
	FinishReason FinishReason `json:"finish_reason"`
	Text         string       `json:"text"`
	Usage        Usage        `json:"usage"`
	Cost         float64      `json:"cost"`
}

// ChatMessage is the provider-facing dialogue shape rebuilt from history.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued tool invocation. ID correlates the eventual
// result back to this call.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// UserMessage builds a user chat message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// SystemMessage builds a system chat message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// AssistantMessage builds an assistant chat message, optionally carrying the
// tool calls the model issued alongside the text.
func AssistantMessage(content string, calls ...ToolCall) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage builds a tool-role message answering the given call.
func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}
