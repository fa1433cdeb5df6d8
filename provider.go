package overture

import (
	"context"
	"encoding/json"
)

// ToolDefinition is the vendor-neutral tool schema sent to a model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CallRequest is a single model invocation: one pass over the dialogue, no
// tool loop.
type CallRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []ToolDefinition
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// CallResponse is what one invocation produced. StopReason carries the
// vendor's raw stop value; callers normalise with NormalizeFinishReason.
type CallResponse struct {
	Content    string
	Reasoning  string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Provider is a vendor client for one configured credential. Stream emits
// text-delta, reasoning-delta, tool-input-start, and tool-input-delta events
// on ch as they arrive and returns the assembled response; it never closes
// ch, and a nil ch suppresses emission. Implementations live in
// provider/anthropic and provider/openaicompat.
type Provider interface {
	Vendor() string
	Complete(ctx context.Context, req CallRequest) (CallResponse, error)
	Stream(ctx context.Context, req CallRequest, ch chan<- StreamEvent) (CallResponse, error)
}

// StreamTextRequest drives a full multi-step turn through a ModelAdapter.
type StreamTextRequest struct {
	System      string
	Messages    []ChatMessage
	Tools       []ToolBinding
	MaxSteps    int
	Temperature *float64
	TopP        *float64
}

// StreamTextResult summarises a completed multi-step turn. Usage is the sum
// across all steps.
type StreamTextResult struct {
	Text         string
	FinishReason FinishReason
	Usage        Usage
	Steps        int
}

// ModelAdapter runs the reason/act loop over a Provider: invoke the model,
// execute any tool calls, feed results back, repeat until the model stops or
// the step ceiling is hit. StreamText emits the full event alphabet on ch in
// order and does not close ch; the caller owns channel lifecycle.
type ModelAdapter interface {
	StreamText(ctx context.Context, req StreamTextRequest, ch chan<- StreamEvent) (StreamTextResult, error)
	GenerateText(ctx context.Context, req StreamTextRequest) (StreamTextResult, error)
}

// AdapterFactory builds a ModelAdapter for a (vendor, model) pair using the
// given credential payload. The provider/registry package implements it over
// the bundled vendor clients.
type AdapterFactory interface {
	NewAdapter(ctx context.Context, vendor, model, credential string) (ModelAdapter, error)
}
