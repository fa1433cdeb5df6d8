package openaicompat

import (
	"encoding/json"

	"github.com/nvoss/overture"
)

// BuildBody converts a vendor-neutral call request into an OpenAI-format
// ChatRequest. The system prompt becomes the leading role:"system" message.
func BuildBody(model string, req overture.CallRequest) ChatRequest {
	var msgs []Message
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == overture.RoleAssistant && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msgs = append(msgs, Message{Role: "assistant", Content: m.Content, ToolCalls: tcs})

		case m.Role == overture.RoleTool:
			msgs = append(msgs, Message{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID})

		default:
			msgs = append(msgs, Message{Role: string(m.Role), Content: m.Content})
		}
	}

	out := ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		out.Tools = BuildToolDefs(req.Tools)
	}
	return out
}

// BuildToolDefs converts neutral tool definitions to the OpenAI tool format.
func BuildToolDefs(tools []overture.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
