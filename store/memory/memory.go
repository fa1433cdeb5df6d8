// Package memory implements overture.Store with in-process maps. It backs
// tests and ephemeral single-process deployments; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nvoss/overture"
)

// Store is a mutex-guarded in-memory overture.Store.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*overture.Session
	messages    map[string]*overture.Message
	parts       map[string][]*overture.MessagePart // message id -> ordered parts
	partIndex   map[string]*overture.MessagePart   // part id -> part
	credentials map[string]*overture.Credential    // credential id -> credential
	msgSeq      int
	msgOrder    map[string]int // message id -> insertion order
}

var _ overture.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]*overture.Session),
		messages:    make(map[string]*overture.Message),
		parts:       make(map[string][]*overture.MessagePart),
		partIndex:   make(map[string]*overture.MessagePart),
		credentials: make(map[string]*overture.Credential),
		msgOrder:    make(map[string]int),
	}
}

func (s *Store) Init(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// --- Sessions ---

func (s *Store) GetSession(_ context.Context, id string) (*overture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, overture.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) CreateSession(_ context.Context, sess *overture.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("memory: session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) AddSessionStats(_ context.Context, id string, delta overture.SessionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return overture.ErrSessionNotFound
	}
	sess.MessageCount += delta.Messages
	sess.TokensInput += delta.TokensInput
	sess.TokensOutput += delta.TokensOutput
	sess.Cost += delta.Cost
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListSessions(_ context.Context, projectID string) ([]*overture.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*overture.Session
	for _, sess := range s.sessions {
		if sess.ProjectID == projectID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// --- Messages ---

func (s *Store) CreateMessage(_ context.Context, m *overture.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[m.ID]; exists {
		return fmt.Errorf("memory: message %s already exists", m.ID)
	}
	cp := *m
	s.messages[m.ID] = &cp
	s.msgSeq++
	s.msgOrder[m.ID] = s.msgSeq
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*overture.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, overture.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) CompleteMessage(_ context.Context, id string, reason overture.FinishReason, usage overture.Usage, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return overture.ErrMessageNotFound
	}
	now := time.Now().UTC()
	m.FinishReason = reason
	m.TokensInput = usage.InputTokens
	m.TokensOutput = usage.OutputTokens
	m.Cost = cost
	m.CompletedAt = &now
	return nil
}

func (s *Store) SetMessageError(_ context.Context, id string, errType, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return overture.ErrMessageNotFound
	}
	now := time.Now().UTC()
	m.ErrorType = errType
	m.ErrorMessage = errMsg
	m.CompletedAt = &now
	return nil
}

func (s *Store) ListMessages(_ context.Context, sessionID string) ([]*overture.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*overture.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.msgOrder[out[i].ID] < s.msgOrder[out[j].ID] })
	return out, nil
}

// --- Parts ---

func (s *Store) CreatePart(_ context.Context, p *overture.MessagePart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.parts[p.MessageID] = append(s.parts[p.MessageID], &cp)
	s.partIndex[p.ID] = &cp
	return nil
}

func (s *Store) ListParts(_ context.Context, messageID string) ([]*overture.MessagePart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.parts[messageID]
	out := make([]*overture.MessagePart, len(parts))
	for i, p := range parts {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) UpdatePartContent(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partIndex[id]
	if !ok {
		return fmt.Errorf("memory: part %s not found", id)
	}
	p.Content = content
	return nil
}

func (s *Store) UpdatePartStatus(_ context.Context, id string, status overture.ToolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partIndex[id]
	if !ok {
		return fmt.Errorf("memory: part %s not found", id)
	}
	p.Status = status
	return nil
}

// --- Credentials ---

// PutCredential inserts or replaces a credential. It is not part of the
// overture.Store interface; tests and provisioning use it directly.
func (s *Store) PutCredential(c *overture.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.credentials[c.ID] = &cp
}

func (s *Store) ListCredentials(_ context.Context, userID string) ([]*overture.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*overture.Credential
	for _, c := range s.credentials {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vendor < out[j].Vendor })
	return out, nil
}

func (s *Store) GetCredential(_ context.Context, userID, vendor string) (*overture.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if c.UserID == userID && c.Vendor == vendor {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", overture.ErrCredentialMissing, vendor)
}

func (s *Store) UpdateCredential(_ context.Context, userID, id, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("%w: id %s", overture.ErrCredentialMissing, id)
	}
	c.APIKey = apiKey
	return nil
}
