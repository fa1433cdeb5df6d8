// Package postgres implements overture.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nvoss/overture"
)

// Store implements overture.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ overture.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes. Safe to call multiple times
// (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
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
			tokens_input BIGINT NOT NULL DEFAULT 0,
			tokens_output BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_project_idx ON sessions(project_id)`,
		`CREATE INDEX IF NOT EXISTS sessions_parent_idx ON sessions(parent_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			finish_reason TEXT NOT NULL DEFAULT '',
			tokens_input BIGINT NOT NULL DEFAULT 0,
			tokens_output BIGINT NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
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
			tool_input JSONB,
			status TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS message_parts_message_idx ON message_parts(message_id)`,

		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			vendor TEXT NOT NULL,
			api_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(user_id, vendor)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close is a no-op; the pool is caller-owned.
func (s *Store) Close() error { return nil }

// --- Sessions ---

const sessionCols = `id, project_id, parent_id, user_id, title, agent_name, vendor, model,
	message_count, tokens_input, tokens_output, cost, created_at, updated_at`

func scanSession(row pgx.Row) (*overture.Session, error) {
	var sess overture.Session
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.ParentID, &sess.UserID, &sess.Title,
		&sess.AgentName, &sess.Vendor, &sess.Model, &sess.MessageCount,
		&sess.TokensInput, &sess.TokensOutput, &sess.Cost, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*overture.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, overture.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session: %w", err)
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *overture.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		sess.ID, sess.ProjectID, sess.ParentID, sess.UserID, sess.Title,
		sess.AgentName, sess.Vendor, sess.Model, sess.MessageCount,
		sess.TokensInput, sess.TokensOutput, sess.Cost, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

func (s *Store) AddSessionStats(ctx context.Context, id string, delta overture.SessionStats) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET
			message_count = message_count + $2,
			tokens_input = tokens_input + $3,
			tokens_output = tokens_output + $4,
			cost = cost + $5,
			updated_at = $6
		 WHERE id = $1`,
		id, delta.Messages, delta.TokensInput, delta.TokensOutput, delta.Cost, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: update session stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return overture.ErrSessionNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, projectID string) ([]*overture.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE project_id = $1 ORDER BY updated_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*overture.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sessions: %w", err)
	}
	return sessions, nil
}

// --- Messages ---

const messageCols = `id, session_id, role, parent_id, agent_name, vendor, model, finish_reason,
	tokens_input, tokens_output, cost, error_type, error_message, created_at, completed_at`

func scanMessage(row pgx.Row) (*overture.Message, error) {
	var m overture.Message
	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.ParentID, &m.AgentName, &m.Vendor,
		&m.Model, &m.FinishReason, &m.TokensInput, &m.TokensOutput, &m.Cost,
		&m.ErrorType, &m.ErrorMessage, &m.CreatedAt, &m.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *overture.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		m.ID, m.SessionID, m.Role, m.ParentID, m.AgentName, m.Vendor, m.Model,
		m.FinishReason, m.TokensInput, m.TokensOutput, m.Cost,
		m.ErrorType, m.ErrorMessage, m.CreatedAt, m.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*overture.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, overture.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get message: %w", err)
	}
	return m, nil
}

func (s *Store) CompleteMessage(ctx context.Context, id string, reason overture.FinishReason, usage overture.Usage, cost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET
			finish_reason = $2, tokens_input = $3, tokens_output = $4, cost = $5, completed_at = $6
		 WHERE id = $1`,
		id, reason, usage.InputTokens, usage.OutputTokens, cost, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: complete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return overture.ErrMessageNotFound
	}
	return nil
}

func (s *Store) SetMessageError(ctx context.Context, id string, errType, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET error_type = $2, error_message = $3, completed_at = $4 WHERE id = $1`,
		id, errType, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set message error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return overture.ErrMessageNotFound
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*overture.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*overture.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}
	return msgs, nil
}

// --- Parts ---

const partCols = `id, message_id, session_id, type, content, tool_name, tool_call_id,
	tool_input, status, step, created_at`

func (s *Store) CreatePart(ctx context.Context, p *overture.MessagePart) error {
	var input any
	if len(p.ToolInput) > 0 {
		input = []byte(p.ToolInput)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_parts (`+partCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.MessageID, p.SessionID, p.Type, p.Content, p.ToolName, p.ToolCallID,
		input, p.Status, p.Step, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create part: %w", err)
	}
	return nil
}

func (s *Store) ListParts(ctx context.Context, messageID string) ([]*overture.MessagePart, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+partCols+` FROM message_parts WHERE message_id = $1 ORDER BY created_at, id`,
		messageID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list parts: %w", err)
	}
	defer rows.Close()

	var parts []*overture.MessagePart
	for rows.Next() {
		var p overture.MessagePart
		var input []byte
		if err := rows.Scan(&p.ID, &p.MessageID, &p.SessionID, &p.Type, &p.Content,
			&p.ToolName, &p.ToolCallID, &input, &p.Status, &p.Step, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan part: %w", err)
		}
		p.ToolInput = input
		parts = append(parts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate parts: %w", err)
	}
	return parts, nil
}

func (s *Store) UpdatePartContent(ctx context.Context, id, content string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE message_parts SET content = $2 WHERE id = $1`, id, content); err != nil {
		return fmt.Errorf("postgres: update part content: %w", err)
	}
	return nil
}

func (s *Store) UpdatePartStatus(ctx context.Context, id string, status overture.ToolStatus) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE message_parts SET status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("postgres: update part status: %w", err)
	}
	return nil
}

// --- Credentials ---

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]*overture.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, vendor, api_key, created_at FROM credentials WHERE user_id = $1 ORDER BY vendor`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*overture.Credential
	for rows.Next() {
		var c overture.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.Vendor, &c.APIKey, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan credential: %w", err)
		}
		creds = append(creds, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) GetCredential(ctx context.Context, userID, vendor string) (*overture.Credential, error) {
	var c overture.Credential
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, vendor, api_key, created_at FROM credentials WHERE user_id = $1 AND vendor = $2`,
		userID, vendor).Scan(&c.ID, &c.UserID, &c.Vendor, &c.APIKey, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", overture.ErrCredentialMissing, vendor)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get credential: %w", err)
	}
	return &c, nil
}

func (s *Store) UpdateCredential(ctx context.Context, userID, id, apiKey string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET api_key = $3 WHERE user_id = $1 AND id = $2`,
		userID, id, apiKey)
	if err != nil {
		return fmt.Errorf("postgres: update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", overture.ErrCredentialMissing, id)
	}
	return nil
}
