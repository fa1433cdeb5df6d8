package overture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-memory Store that records mutation counts so tests can
// assert on persistence behaviour.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	messages    map[string]*Message
	msgOrder    []string
	parts       map[string][]*MessagePart
	partByID    map[string]*MessagePart
	credentials map[string]*Credential

	statsCalls    int
	completeCalls int
	failErr       error // when set, every mutation fails with it
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[string]*Session),
		messages:    make(map[string]*Message),
		parts:       make(map[string][]*MessagePart),
		partByID:    make(map[string]*MessagePart),
		credentials: make(map[string]*Credential),
	}
}

func (s *fakeStore) addSession(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	if cp.ID == "" {
		cp.ID = NewID()
	}
	s.sessions[cp.ID] = &cp
	return &cp
}

func (s *fakeStore) addCredential(c *Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.ID == "" {
		cp.ID = NewID()
	}
	s.credentials[cp.ID] = &cp
}

func (s *fakeStore) Init(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func (s *fakeStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	cp := *sess
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *fakeStore) AddSessionStats(_ context.Context, id string, delta SessionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.statsCalls++
	sess.MessageCount += delta.Messages
	sess.TokensInput += delta.TokensInput
	sess.TokensOutput += delta.TokensOutput
	sess.Cost += delta.Cost
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) ListSessions(_ context.Context, projectID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.ProjectID == projectID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	cp := *m
	s.messages[cp.ID] = &cp
	s.msgOrder = append(s.msgOrder, cp.ID)
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) CompleteMessage(_ context.Context, id string, reason FinishReason, usage Usage, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	m, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	s.completeCalls++
	now := time.Now().UTC()
	m.FinishReason = reason
	m.TokensInput = usage.InputTokens
	m.TokensOutput = usage.OutputTokens
	m.Cost = cost
	m.CompletedAt = &now
	return nil
}

func (s *fakeStore) SetMessageError(_ context.Context, id string, errType, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	now := time.Now().UTC()
	m.ErrorType = errType
	m.ErrorMessage = errMsg
	m.CompletedAt = &now
	return nil
}

func (s *fakeStore) ListMessages(_ context.Context, sessionID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, id := range s.msgOrder {
		if m := s.messages[id]; m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CreatePart(_ context.Context, p *MessagePart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	cp := *p
	s.parts[cp.MessageID] = append(s.parts[cp.MessageID], &cp)
	s.partByID[cp.ID] = &cp
	return nil
}

func (s *fakeStore) ListParts(_ context.Context, messageID string) ([]*MessagePart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.parts[messageID]
	out := make([]*MessagePart, len(parts))
	for i, p := range parts {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (s *fakeStore) UpdatePartContent(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partByID[id]
	if !ok {
		return fmt.Errorf("part %s not found", id)
	}
	p.Content = content
	return nil
}

func (s *fakeStore) UpdatePartStatus(_ context.Context, id string, status ToolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partByID[id]
	if !ok {
		return fmt.Errorf("part %s not found", id)
	}
	p.Status = status
	return nil
}

func (s *fakeStore) ListCredentials(_ context.Context, userID string) ([]*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Credential
	for _, c := range s.credentials {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) GetCredential(_ context.Context, userID, vendor string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if c.UserID == userID && c.Vendor == vendor {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, vendor)
}

func (s *fakeStore) UpdateCredential(_ context.Context, userID, id, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("%w: id %s", ErrCredentialMissing, id)
	}
	c.APIKey = apiKey
	return nil
}

// partsOf returns the part types recorded for a message, in order.
func (s *fakeStore) partTypes(messageID string) []PartType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PartType
	for _, p := range s.parts[messageID] {
		out = append(out, p.Type)
	}
	return out
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBus) Publish(_ string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) types() []EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []EventType
	for _, ev := range b.events {
		out = append(out, ev.Type)
	}
	return out
}

// scriptedProvider returns canned responses per step and emits any scripted
// delta events first.
type scriptedProvider struct {
	vendor string
	steps  []scriptedStep
	mu     sync.Mutex
	calls  int
	reqs   []CallRequest
}

type scriptedStep struct {
	deltas []StreamEvent
	resp   CallResponse
	err    error
}

func (p *scriptedProvider) Vendor() string {
	if p.vendor == "" {
		return "anthropic"
	}
	return p.vendor
}

func (p *scriptedProvider) Complete(ctx context.Context, req CallRequest) (CallResponse, error) {
	return p.Stream(ctx, req, nil)
}

func (p *scriptedProvider) Stream(ctx context.Context, req CallRequest, ch chan<- StreamEvent) (CallResponse, error) {
	p.mu.Lock()
	step := p.calls
	p.calls++
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if step >= len(p.steps) {
		return CallResponse{}, fmt.Errorf("scripted provider: unexpected call %d", step)
	}
	sc := p.steps[step]
	if sc.err != nil {
		return CallResponse{}, sc.err
	}
	if ch != nil {
		for _, ev := range sc.deltas {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return CallResponse{}, ctx.Err()
			}
		}
	}
	return sc.resp, nil
}

// drain collects every event from ch until it closes.
func drain(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}
