package openaicompat

import (
	"encoding/json"

	"github.com/nvoss/overture"
)

// ParseResponse converts an OpenAI-format ChatResponse to a neutral
// CallResponse. It extracts content, tool calls, usage, and the raw finish
// reason from choices[0].
func ParseResponse(resp ChatResponse) overture.CallResponse {
	var out overture.CallResponse
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.StopReason = choice.FinishReason
		if choice.Message != nil {
			out.Content = choice.Message.Content
			out.Reasoning = choice.Message.ReasoningContent
			out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
		}
	}
	if resp.Usage != nil {
		out.Usage = overture.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// ParseToolCalls converts OpenAI tool call requests to neutral ToolCalls.
// The API returns function.arguments as a JSON string; invalid payloads
// degrade to an empty object rather than failing the step.
func ParseToolCalls(tcs []ToolCallRequest) []overture.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]overture.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, overture.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
