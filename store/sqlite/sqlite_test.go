package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvoss/overture"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := &overture.Session{
		ID: "s1", ProjectID: "p1", ParentID: "", UserID: "u1",
		Title: "first", AgentName: "default",
		Vendor: "anthropic", Model: "claude-sonnet-4-5",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "first" || got.Vendor != "anthropic" || !got.CreatedAt.Equal(now) {
		t.Errorf("session = %+v", got)
	}

	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, overture.ErrSessionNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestAddSessionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = s.CreateSession(ctx, &overture.Session{ID: "s1", ProjectID: "p1", CreatedAt: now, UpdatedAt: now})

	delta := overture.SessionStats{Messages: 2, TokensInput: 10, TokensOutput: 4, Cost: 0.002}
	if err := s.AddSessionStats(ctx, "s1", delta); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetSession(ctx, "s1")
	if sess.MessageCount != 2 || sess.TokensInput != 10 || sess.TokensOutput != 4 {
		t.Errorf("aggregates = %+v", sess)
	}

	if err := s.AddSessionStats(ctx, "nope", delta); !errors.Is(err, overture.ErrSessionNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	msg := &overture.Message{
		ID: "m1", SessionID: "s1", Role: overture.RoleAssistant,
		AgentName: "default", Vendor: "anthropic", Model: "claude-sonnet-4-5",
		CreatedAt: now,
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt != nil || got.FinishReason != "" {
		t.Errorf("pending message = %+v", got)
	}

	usage := overture.Usage{InputTokens: 4, OutputTokens: 2}
	if err := s.CompleteMessage(ctx, "m1", overture.FinishStop, usage, 0.000042); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetMessage(ctx, "m1")
	if got.FinishReason != overture.FinishStop || got.TokensInput != 4 || got.CompletedAt == nil {
		t.Errorf("completed message = %+v", got)
	}

	if err := s.CompleteMessage(ctx, "ghost", overture.FinishStop, usage, 0); !errors.Is(err, overture.ErrMessageNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestSetMessageError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreateMessage(ctx, &overture.Message{
		ID: "m1", SessionID: "s1", Role: overture.RoleAssistant, CreatedAt: time.Now().UTC(),
	})

	if err := s.SetMessageError(ctx, "m1", "cancelled", "turn cancelled"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetMessage(ctx, "m1")
	if got.ErrorType != "cancelled" || got.ErrorMessage != "turn cancelled" || got.CompletedAt == nil {
		t.Errorf("failed message = %+v", got)
	}
}

func TestListMessagesInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"m1", "m2", "m3"} {
		_ = s.CreateMessage(ctx, &overture.Message{
			ID: id, SessionID: "s1", Role: overture.RoleUser,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	msgs, err := s.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("order = %+v", msgs)
	}
}

func TestPartsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	parts := []*overture.MessagePart{
		{ID: "p1", MessageID: "m1", SessionID: "s1", Type: overture.PartStepStart, CreatedAt: now},
		{ID: "p2", MessageID: "m1", SessionID: "s1", Type: overture.PartText, Content: "hel", CreatedAt: now.Add(time.Millisecond)},
		{ID: "p3", MessageID: "m1", SessionID: "s1", Type: overture.PartToolCall,
			ToolName: "ls", ToolCallID: "c1", ToolInput: json.RawMessage(`{"dir":"."}`),
			Status: overture.ToolRunning, Step: 0, CreatedAt: now.Add(2 * time.Millisecond)},
	}
	for _, p := range parts {
		if err := s.CreatePart(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.UpdatePartContent(ctx, "p2", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdatePartStatus(ctx, "p3", overture.ToolCompleted); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListParts(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("parts = %d", len(got))
	}
	if got[1].Content != "hello" || got[2].Status != overture.ToolCompleted {
		t.Errorf("parts = %+v, %+v", got[1], got[2])
	}
	if string(got[2].ToolInput) != `{"dir":"."}` {
		t.Errorf("tool input = %s", got[2].ToolInput)
	}
}

func TestCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The credentials table is provisioned out of band; insert directly.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, vendor, api_key, created_at) VALUES (?,?,?,?,?)`,
		"c1", "u1", "anthropic", "sk-1", time.Now().UnixMilli())
	if err != nil {
		t.Fatal(err)
	}

	cred, err := s.GetCredential(ctx, "u1", "anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if cred.APIKey != "sk-1" {
		t.Errorf("credential = %+v", cred)
	}
	if _, err := s.GetCredential(ctx, "u1", "openai"); !errors.Is(err, overture.ErrCredentialMissing) {
		t.Errorf("err = %v", err)
	}

	if err := s.UpdateCredential(ctx, "u1", "c1", "sk-rotated"); err != nil {
		t.Fatal(err)
	}
	cred, _ = s.GetCredential(ctx, "u1", "anthropic")
	if cred.APIKey != "sk-rotated" {
		t.Errorf("apiKey = %q", cred.APIKey)
	}

	if err := s.UpdateCredential(ctx, "u2", "c1", "x"); !errors.Is(err, overture.ErrCredentialMissing) {
		t.Errorf("cross-user update err = %v", err)
	}

	list, err := s.ListCredentials(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("credentials = %d", len(list))
	}
}
