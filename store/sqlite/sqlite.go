// Package sqlite implements overture.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvoss/overture"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store implements overture.Store backed by a local SQLite file. Timestamps
// are stored as Unix milliseconds.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ overture.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			tokens_input INTEGER NOT NULL DEFAULT 0,
			tokens_output INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_project_idx ON sessions(project_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			finish_reason TEXT NOT NULL DEFAULT '',
			tokens_input INTEGER NOT NULL DEFAULT 0,
			tokens_output INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS message_parts (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_input TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS message_parts_message_idx ON message_parts(message_id)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			vendor TEXT NOT NULL,
			api_key TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(user_id, vendor)
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

// --- Sessions ---

func (s *Store) GetSession(ctx context.Context, id string) (*overture.Session, error) {
	var sess overture.Session
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, parent_id, user_id, title, agent_name, vendor, model,
			message_count, tokens_input, tokens_output, cost, created_at, updated_at
		 FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.ProjectID, &sess.ParentID, &sess.UserID, &sess.Title,
			&sess.AgentName, &sess.Vendor, &sess.Model, &sess.MessageCount,
			&sess.TokensInput, &sess.TokensOutput, &sess.Cost, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, overture.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session: %w", err)
	}
	sess.CreatedAt, sess.UpdatedAt = fromMS(created), fromMS(updated)
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *overture.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, parent_id, user_id, title, agent_name, vendor, model,
			message_count, tokens_input, tokens_output, cost, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.ProjectID, sess.ParentID, sess.UserID, sess.Title,
		sess.AgentName, sess.Vendor, sess.Model, sess.MessageCount,
		sess.TokensInput, sess.TokensOutput, sess.Cost, ms(sess.CreatedAt), ms(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create session: %w", err)
	}
	return nil
}

func (s *Store) AddSessionStats(ctx context.Context, id string, delta overture.SessionStats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET
			message_count = message_count + ?,
			tokens_input = tokens_input + ?,
			tokens_output = tokens_output + ?,
			cost = cost + ?,
			updated_at = ?
		 WHERE id = ?`,
		delta.Messages, delta.TokensInput, delta.TokensOutput, delta.Cost, ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: update session stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return overture.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, projectID string) ([]*overture.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, parent_id, user_id, title, agent_name, vendor, model,
			message_count, tokens_input, tokens_output, cost, created_at, updated_at
		 FROM sessions WHERE project_id = ? ORDER BY updated_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*overture.Session
	for rows.Next() {
		var sess overture.Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.ParentID, &sess.UserID, &sess.Title,
			&sess.AgentName, &sess.Vendor, &sess.Model, &sess.MessageCount,
			&sess.TokensInput, &sess.TokensOutput, &sess.Cost, &created, &updated); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		sess.CreatedAt, sess.UpdatedAt = fromMS(created), fromMS(updated)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate sessions: %w", err)
	}
	return sessions, nil
}

// --- Messages ---

func scanMessageRow(scan func(dest ...any) error) (*overture.Message, error) {
	var m overture.Message
	var created int64
	var completed sql.NullInt64
	err := scan(&m.ID, &m.SessionID, &m.Role, &m.ParentID, &m.AgentName, &m.Vendor,
		&m.Model, &m.FinishReason, &m.TokensInput, &m.TokensOutput, &m.Cost,
		&m.ErrorType, &m.ErrorMessage, &created, &completed)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = fromMS(created)
	if completed.Valid {
		t := fromMS(completed.Int64)
		m.CompletedAt = &t
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *overture.Message) error {
	var completed any
	if m.CompletedAt != nil {
		completed = ms(*m.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, parent_id, agent_name, vendor, model,
			finish_reason, tokens_input, tokens_output, cost, error_type, error_message,
			created_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.SessionID, m.Role, m.ParentID, m.AgentName, m.Vendor, m.Model,
		m.FinishReason, m.TokensInput, m.TokensOutput, m.Cost, m.ErrorType, m.ErrorMessage,
		ms(m.CreatedAt), completed)
	if err != nil {
		return fmt.Errorf("sqlite: create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*overture.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, role, parent_id, agent_name, vendor, model, finish_reason,
			tokens_input, tokens_output, cost, error_type, error_message, created_at, completed_at
		 FROM messages WHERE id = ?`, id)
	m, err := scanMessageRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, overture.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get message: %w", err)
	}
	return m, nil
}

func (s *Store) CompleteMessage(ctx context.Context, id string, reason overture.FinishReason, usage overture.Usage, cost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET finish_reason = ?, tokens_input = ?, tokens_output = ?, cost = ?, completed_at = ?
		 WHERE id = ?`,
		reason, usage.InputTokens, usage.OutputTokens, cost, ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: complete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return overture.ErrMessageNotFound
	}
	return nil
}

func (s *Store) SetMessageError(ctx context.Context, id string, errType, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET error_type = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		errType, errMsg, ms(time.Now()), id)
	if err != nil {
		return fmt.Errorf("sqlite: set message error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return overture.ErrMessageNotFound
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*overture.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, parent_id, agent_name, vendor, model, finish_reason,
			tokens_input, tokens_output, cost, error_type, error_message, created_at, completed_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*overture.Message
	for rows.Next() {
		m, err := scanMessageRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate messages: %w", err)
	}
	return msgs, nil
}

// --- Parts ---

func (s *Store) CreatePart(ctx context.Context, p *overture.MessagePart) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_parts (id, message_id, session_id, type, content, tool_name,
			tool_call_id, tool_input, status, step, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.MessageID, p.SessionID, p.Type, p.Content, p.ToolName,
		p.ToolCallID, string(p.ToolInput), p.Status, p.Step, ms(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: create part: %w", err)
	}
	return nil
}

func (s *Store) ListParts(ctx context.Context, messageID string) ([]*overture.MessagePart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, session_id, type, content, tool_name, tool_call_id,
			tool_input, status, step, created_at
		 FROM message_parts WHERE message_id = ? ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list parts: %w", err)
	}
	defer rows.Close()

	var parts []*overture.MessagePart
	for rows.Next() {
		var p overture.MessagePart
		var input string
		var created int64
		if err := rows.Scan(&p.ID, &p.MessageID, &p.SessionID, &p.Type, &p.Content,
			&p.ToolName, &p.ToolCallID, &input, &p.Status, &p.Step, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan part: %w", err)
		}
		if input != "" {
			p.ToolInput = []byte(input)
		}
		p.CreatedAt = fromMS(created)
		parts = append(parts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate parts: %w", err)
	}
	return parts, nil
}

func (s *Store) UpdatePartContent(ctx context.Context, id, content string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE message_parts SET content = ? WHERE id = ?`, content, id); err != nil {
		return fmt.Errorf("sqlite: update part content: %w", err)
	}
	return nil
}

func (s *Store) UpdatePartStatus(ctx context.Context, id string, status overture.ToolStatus) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE message_parts SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("sqlite: update part status: %w", err)
	}
	return nil
}

// --- Credentials ---

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]*overture.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, vendor, api_key, created_at FROM credentials
		 WHERE user_id = ? ORDER BY vendor`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*overture.Credential
	for rows.Next() {
		var c overture.Credential
		var created int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Vendor, &c.APIKey, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan credential: %w", err)
		}
		c.CreatedAt = fromMS(created)
		creds = append(creds, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) GetCredential(ctx context.Context, userID, vendor string) (*overture.Credential, error) {
	var c overture.Credential
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, vendor, api_key, created_at FROM credentials
		 WHERE user_id = ? AND vendor = ?`, userID, vendor).
		Scan(&c.ID, &c.UserID, &c.Vendor, &c.APIKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", overture.ErrCredentialMissing, vendor)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get credential: %w", err)
	}
	c.CreatedAt = fromMS(created)
	return &c, nil
}

func (s *Store) UpdateCredential(ctx context.Context, userID, id, apiKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET api_key = ? WHERE user_id = ? AND id = ?`,
		apiKey, userID, id)
	if err != nil {
		return fmt.Errorf("sqlite: update credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %s", overture.ErrCredentialMissing, id)
	}
	return nil
}
