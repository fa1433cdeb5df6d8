package overture

import (
	"context"
	"fmt"
	"strings"
)

// RebuildHistory reconstructs the provider-facing dialogue from a session's
// durable messages and parts, excluding any message ids listed in skip (the
// rows created for the turn in flight). Per message, text parts concatenate
// in order; tool-call parts become assistant tool calls and tool-result
// parts become tool-role messages, so a replayed dialogue keeps its
// call/result pairing. Reasoning and step-marker parts are not replayed.
func RebuildHistory(ctx context.Context, store Store, sessionID string, skip ...string) ([]ChatMessage, error) {
	msgs, err := store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: list messages: %w", err)
	}
	skipSet := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipSet[id] = true
	}

	var out []ChatMessage
	for _, m := range msgs {
		if skipSet[m.ID] {
			continue
		}
		switch m.Role {
		case RoleUser, RoleSystem:
			parts, err := store.ListParts(ctx, m.ID)
			if err != nil {
				return nil, fmt.Errorf("history: list parts: %w", err)
			}
			out = append(out, ChatMessage{Role: m.Role, Content: textOf(parts)})
		case RoleAssistant:
			parts, err := store.ListParts(ctx, m.ID)
			if err != nil {
				return nil, fmt.Errorf("history: list parts: %w", err)
			}
			out = append(out, flattenAssistant(parts)...)
		}
	}
	return out, nil
}

func textOf(parts []*MessagePart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == PartText {
			b.WriteString(p.Content)
		}
	}
	return b.String()
}

// flattenAssistant converts one assistant message's parts into the chat
// messages a provider expects: an assistant message carrying text plus its
// tool calls, followed by one tool message per result. Multi-step turns
// produce alternating assistant/tool runs split on step boundaries.
func flattenAssistant(parts []*MessagePart) []ChatMessage {
	var out []ChatMessage
	var text strings.Builder
	var calls []ToolCall

	flush := func() {
		if text.Len() == 0 && len(calls) == 0 {
			return
		}
		out = append(out, AssistantMessage(text.String(), calls...))
		text.Reset()
		calls = nil
	}

	for _, p := range parts {
		switch p.Type {
		case PartText:
			text.WriteString(p.Content)
		case PartToolCall:
			calls = append(calls, ToolCall{ID: p.ToolCallID, Name: p.ToolName, Args: p.ToolInput})
		case PartToolResult:
			flush()
			out = append(out, ToolResultMessage(p.ToolCallID, p.Content))
		}
	}
	flush()
	return out
}
