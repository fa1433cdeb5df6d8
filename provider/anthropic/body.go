package anthropic

import (
	"encoding/json"

	"github.com/nvoss/overture"
)

const defaultMaxTokens = 8192

// buildBody converts a vendor-neutral call request into a Messages API body.
// System and tool role messages fold into the shapes the API expects: the
// system prompt is a top-level field, tool results are user-role
// tool_result blocks.
func buildBody(req overture.CallRequest) messagesRequest {
	out := messagesRequest{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	for _, m := range req.Messages {
		switch m.Role {
		case overture.RoleSystem:
			// A stray system message in history joins the system prompt.
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content

		case overture.RoleAssistant:
			var blocks []contentBlock
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Args
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) > 0 {
				out.Messages = append(out.Messages, apiMessage{Role: "assistant", Content: blocks})
			}

		case overture.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			// Consecutive tool results merge into one user message.
			if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == "user" &&
				len(out.Messages[n-1].Content) > 0 && out.Messages[n-1].Content[0].Type == "tool_result" {
				out.Messages[n-1].Content = append(out.Messages[n-1].Content, block)
			} else {
				out.Messages = append(out.Messages, apiMessage{Role: "user", Content: []contentBlock{block}})
			}

		default:
			out.Messages = append(out.Messages, apiMessage{
				Role:    "user",
				Content: []contentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, apiTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// parseResponse converts a Messages API response to a neutral CallResponse.
func parseResponse(resp messagesResponse) overture.CallResponse {
	out := overture.CallResponse{
		StopReason: resp.StopReason,
		Usage: overture.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			out.Content += b.Text
		case "thinking":
			out.Reasoning += b.Text
		case "tool_use":
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, overture.ToolCall{ID: b.ID, Name: b.Name, Args: input})
		}
	}
	return out
}
