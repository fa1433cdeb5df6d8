package overture

import (
	"context"
	"encoding/json"
	"testing"
)

func seedMessage(t *testing.T, store *fakeStore, sessionID string, role Role, parts ...*MessagePart) string {
	t.Helper()
	ctx := context.Background()
	msg := &Message{ID: NewID(), SessionID: sessionID, Role: role}
	if err := store.CreateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	for _, p := range parts {
		p.ID = NewID()
		p.MessageID = msg.ID
		p.SessionID = sessionID
		if err := store.CreatePart(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	return msg.ID
}

func TestRebuildHistorySimpleExchange(t *testing.T) {
	store := newFakeStore()
	store.addSession(&Session{ID: "s"})
	seedMessage(t, store, "s", RoleUser, &MessagePart{Type: PartText, Content: "hello"})
	seedMessage(t, store, "s", RoleAssistant,
		&MessagePart{Type: PartStepStart},
		&MessagePart{Type: PartText, Content: "hi there"},
		&MessagePart{Type: PartStepFinish},
	)

	history, err := RebuildHistory(context.Background(), store, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "hello" {
		t.Errorf("user message = %+v", history[0])
	}
	if history[1].Role != RoleAssistant || history[1].Content != "hi there" {
		t.Errorf("assistant message = %+v", history[1])
	}
}

func TestRebuildHistoryToolPairing(t *testing.T) {
	store := newFakeStore()
	store.addSession(&Session{ID: "s"})
	seedMessage(t, store, "s", RoleUser, &MessagePart{Type: PartText, Content: "list files"})
	seedMessage(t, store, "s", RoleAssistant,
		&MessagePart{Type: PartStepStart, Step: 0},
		&MessagePart{Type: PartToolCall, ToolCallID: "c1", ToolName: "ls", ToolInput: json.RawMessage(`{}`), Status: ToolCompleted, Step: 0},
		&MessagePart{Type: PartToolResult, ToolCallID: "c1", Content: "a.go b.go", Status: ToolCompleted, Step: 0},
		&MessagePart{Type: PartStepFinish, Step: 0},
		&MessagePart{Type: PartStepStart, Step: 1},
		&MessagePart{Type: PartText, Content: "Two files.", Step: 1},
		&MessagePart{Type: PartStepFinish, Step: 1},
	)

	history, err := RebuildHistory(context.Background(), store, "s")
	if err != nil {
		t.Fatal(err)
	}
	// user, assistant(tool call), tool result, assistant(text)
	if len(history) != 4 {
		t.Fatalf("history = %d messages: %+v", len(history), history)
	}
	if history[1].Role != RoleAssistant || len(history[1].ToolCalls) != 1 || history[1].ToolCalls[0].ID != "c1" {
		t.Errorf("assistant call message = %+v", history[1])
	}
	if history[2].Role != RoleTool || history[2].ToolCallID != "c1" || history[2].Content != "a.go b.go" {
		t.Errorf("tool result message = %+v", history[2])
	}
	if history[3].Role != RoleAssistant || history[3].Content != "Two files." {
		t.Errorf("final assistant message = %+v", history[3])
	}
}

func TestRebuildHistorySkipsReasoningParts(t *testing.T) {
	store := newFakeStore()
	store.addSession(&Session{ID: "s"})
	seedMessage(t, store, "s", RoleAssistant,
		&MessagePart{Type: PartReasoning, Content: "thinking out loud"},
		&MessagePart{Type: PartText, Content: "answer"},
	)

	history, err := RebuildHistory(context.Background(), store, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "answer" {
		t.Fatalf("history = %+v", history)
	}
}

func TestRebuildHistorySkipList(t *testing.T) {
	store := newFakeStore()
	store.addSession(&Session{ID: "s"})
	seedMessage(t, store, "s", RoleUser, &MessagePart{Type: PartText, Content: "earlier"})
	pendingUser := seedMessage(t, store, "s", RoleUser, &MessagePart{Type: PartText, Content: "current prompt"})
	pendingAsst := seedMessage(t, store, "s", RoleAssistant)

	history, err := RebuildHistory(context.Background(), store, "s", pendingUser, pendingAsst)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "earlier" {
		t.Fatalf("history = %+v", history)
	}
}
