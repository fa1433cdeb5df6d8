package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/nvoss/overture"
)

// streamSSE reads a Messages API event stream, emits delta events on ch, and
// returns the accumulated response. ch is never closed here and may be nil.
//
// The API frames events as:
//
//	event: content_block_delta
//	data: {"type":"content_block_delta","index":0,"delta":{...}}
func streamSSE(ctx context.Context, vendor string, body io.Reader, ch chan<- overture.StreamEvent) (overture.CallResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	send := func(ev overture.StreamEvent) error {
		if ch == nil {
			return nil
		}
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var out overture.CallResponse
	var content, reasoning strings.Builder

	// Open tool_use blocks by stream index; input JSON arrives as fragments.
	type openTool struct {
		id   string
		name string
		args strings.Builder
	}
	tools := make(map[int]*openTool)
	var toolOrder []int

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			continue
		}

		switch chunk.Type {
		case "message_start":
			if chunk.Message != nil {
				out.Usage.InputTokens = chunk.Message.Usage.InputTokens
			}

		case "content_block_start":
			if cb := chunk.ContentBlock; cb != nil && cb.Type == "tool_use" {
				tools[chunk.Index] = &openTool{id: cb.ID, name: cb.Name}
				toolOrder = append(toolOrder, chunk.Index)
				if err := send(overture.StreamEvent{Type: overture.EventToolInputStart, ToolName: cb.Name, ToolCallID: cb.ID}); err != nil {
					return out, err
				}
			}

		case "content_block_delta":
			d := chunk.Delta
			if d == nil {
				continue
			}
			switch d.Type {
			case "text_delta":
				content.WriteString(d.Text)
				if err := send(overture.StreamEvent{Type: overture.EventTextDelta, Content: d.Text}); err != nil {
					return out, err
				}
			case "thinking_delta":
				reasoning.WriteString(d.Thinking)
				if err := send(overture.StreamEvent{Type: overture.EventReasoningDelta, Content: d.Thinking}); err != nil {
					return out, err
				}
			case "input_json_delta":
				if t, ok := tools[chunk.Index]; ok {
					t.args.WriteString(d.PartialJSON)
					if err := send(overture.StreamEvent{Type: overture.EventToolInputDelta, ToolName: t.name, ToolCallID: t.id, Content: d.PartialJSON}); err != nil {
						return out, err
					}
				}
			}

		case "message_delta":
			if chunk.Delta != nil && chunk.Delta.StopReason != "" {
				out.StopReason = chunk.Delta.StopReason
			}
			if chunk.Usage != nil {
				out.Usage.OutputTokens = chunk.Usage.OutputTokens
			}

		case "error":
			msg := "stream error"
			errType := ""
			if chunk.Error != nil {
				msg = chunk.Error.Message
				errType = chunk.Error.Type
			}
			return out, &overture.ErrModel{Vendor: vendor, Type: errType, Message: msg}
		}
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}

	out.Content = content.String()
	out.Reasoning = reasoning.String()
	for _, idx := range toolOrder {
		t := tools[idx]
		args := json.RawMessage(t.args.String())
		if !json.Valid(args) || len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, overture.ToolCall{ID: t.id, Name: t.name, Args: args})
	}
	return out, nil
}
