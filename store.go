package overture

import (
	"context"
	"time"
)

// Credential is a stored secret for one vendor. APIKey holds either a plain
// API key or, for OAuth vendors, a JSON triple of access, refresh, and
// expiry (see ParseOAuthCredentials).
type Credential struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Vendor    string    `json:"vendor"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable repository the engine runs against. Implementations
// live in store/postgres, store/sqlite, and store/memory.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// Sessions.
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	// AddSessionStats applies the delta atomically and bumps UpdatedAt.
	AddSessionStats(ctx context.Context, id string, delta SessionStats) error
	ListSessions(ctx context.Context, projectID string) ([]*Session, error)

	// Messages.
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// CompleteMessage finalises an assistant message with its outcome.
	CompleteMessage(ctx context.Context, id string, reason FinishReason, usage Usage, cost float64) error
	// SetMessageError marks a message failed without touching usage.
	SetMessageError(ctx context.Context, id string, errType, errMsg string) error
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// Parts.
	CreatePart(ctx context.Context, p *MessagePart) error
	ListParts(ctx context.Context, messageID string) ([]*MessagePart, error)
	UpdatePartContent(ctx context.Context, id, content string) error
	UpdatePartStatus(ctx context.Context, id string, status ToolStatus) error

	// Credentials.
	ListCredentials(ctx context.Context, userID string) ([]*Credential, error)
	GetCredential(ctx context.Context, userID, vendor string) (*Credential, error)
	UpdateCredential(ctx context.Context, userID, id, apiKey string) error
}
