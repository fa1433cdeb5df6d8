package openaicompat

import (
	"bufio"
	"context"
	"io"
	"strings"

	"encoding/json"

	"github.com/nvoss/overture"
)

// StreamSSE reads an SSE stream from body, emits text-delta,
// reasoning-delta, and tool-input events on ch, and returns the fully
// accumulated response (content + tool calls + usage + finish reason).
//
// ch is never closed here and may be nil to suppress emission. A context
// cancellation aborts parsing and returns ctx's error.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- overture.StreamEvent) (overture.CallResponse, error) {
	scanner := bufio.NewScanner(body)
	// Large tool arguments can exceed the default token size.
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

	var content, reasoning strings.Builder
	var usage overture.Usage
	var stopReason string

	// Tool calls stream incrementally: each chunk carries an index and
	// argument fragments.
	type partialToolCall struct {
		ID      string
		Name    string
		Args    strings.Builder
		started bool
	}
	var toolCalls []*partialToolCall

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			stopReason = choice.FinishReason
		}
		delta := choice.Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if err := send(overture.StreamEvent{Type: overture.EventTextDelta, Content: delta.Content}); err != nil {
				return overture.CallResponse{}, err
			}
		}
		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			if err := send(overture.StreamEvent{Type: overture.EventReasoningDelta, Content: delta.ReasoningContent}); err != nil {
				return overture.CallResponse{}, err
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, &partialToolCall{})
			}
			p := toolCalls[idx]
			if tc.ID != "" {
				p.ID = tc.ID
			}
			if tc.Function.Name != "" {
				p.Name = tc.Function.Name
			}
			if !p.started && p.Name != "" {
				p.started = true
				if err := send(overture.StreamEvent{Type: overture.EventToolInputStart, ToolName: p.Name, ToolCallID: p.ID}); err != nil {
					return overture.CallResponse{}, err
				}
			}
			if tc.Function.Arguments != "" {
				p.Args.WriteString(tc.Function.Arguments)
				if err := send(overture.StreamEvent{Type: overture.EventToolInputDelta, ToolName: p.Name, ToolCallID: p.ID, Content: tc.Function.Arguments}); err != nil {
					return overture.CallResponse{}, err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return overture.CallResponse{}, err
	}

	out := overture.CallResponse{
		Content:    content.String(),
		Reasoning:  reasoning.String(),
		Usage:      usage,
		StopReason: stopReason,
	}
	for _, p := range toolCalls {
		if p.Name == "" {
			continue
		}
		args := json.RawMessage(p.Args.String())
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, overture.ToolCall{ID: p.ID, Name: p.Name, Args: args})
	}
	return out, nil
}
