// Package store persists chat messages and session summaries in
// SQLite. Single-record writes are atomic with last-write-wins
// semantics and immediately visible to subsequent reads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aura/internal/session"
	"aura/internal/thinking"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a store over an initialized database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// InsertMessage inserts a message row and returns its id. A missing id
// is generated.
func (s *Store) InsertMessage(ctx context.Context, m session.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	structured, err := marshalThinking(m.StructuredThinking)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at,
			token_count, input_tokens, output_tokens, estimated_cost, structured_thinking)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt,
		m.TokenCount, m.InputTokens, m.OutputTokens, m.EstimatedCost, structured,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return m.ID, nil
}

// PatchMessageContent overwrites the mutable streaming fields of an
// in-flight message row.
func (s *Store) PatchMessageContent(ctx context.Context, id, content string, view *thinking.View) error {
	structured, err := marshalThinking(view)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, structured_thinking = ? WHERE id = ?`,
		content, structured, id,
	)
	if err != nil {
		return fmt.Errorf("failed to patch message: %w", err)
	}
	return nil
}

// PatchMessageUsage records finalized token accounting on a message.
func (s *Store) PatchMessageUsage(ctx context.Context, id string, tokenCount, inputTokens, outputTokens int, estimatedCost float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET token_count = ?, input_tokens = ?, output_tokens = ?, estimated_cost = ? WHERE id = ?`,
		tokenCount, inputTokens, outputTokens, estimatedCost, id,
	)
	if err != nil {
		return fmt.Errorf("failed to patch message usage: %w", err)
	}
	return nil
}

// Messages returns up to limit messages for a session in ascending
// creation order.
func (s *Store) Messages(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at,
			token_count, input_tokens, output_tokens, estimated_cost, structured_thinking
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []session.Message
	for rows.Next() {
		var m session.Message
		var structured sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt,
			&m.TokenCount, &m.InputTokens, &m.OutputTokens, &m.EstimatedCost, &structured); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if structured.Valid && structured.String != "" {
			var view thinking.View
			if err := json.Unmarshal([]byte(structured.String), &view); err == nil {
				m.StructuredThinking = &view
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SessionTotals aggregates token and cost accounting over the most
// recent messages of a session.
type SessionTotals struct {
	MessageCount int
	TotalTokens  int
	TotalCost    float64
}

// SessionInfo computes aggregate totals from the last 50 messages.
func (s *Store) SessionInfo(ctx context.Context, sessionID string) (SessionTotals, error) {
	var t SessionTotals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(token_count), 0), COALESCE(SUM(estimated_cost), 0)
		FROM (SELECT token_count, estimated_cost FROM messages
			WHERE session_id = ? ORDER BY created_at DESC LIMIT 50)`,
		sessionID,
	).Scan(&t.MessageCount, &t.TotalTokens, &t.TotalCost)
	if err != nil {
		return t, fmt.Errorf("failed to aggregate session info: %w", err)
	}
	return t, nil
}

// CreateSession mirrors a client-created session. INSERT OR REPLACE so
// a double-submit of the same id is a no-op rather than an error.
func (s *Store) CreateSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_id, title, is_active, total_tokens,
			total_cost, message_count, created_at, last_activity, preview, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.Title, boolToInt(sess.IsActive), sess.TotalTokens,
		sess.TotalCost, sess.MessageCount, sess.CreatedAt, sess.LastActivity,
		sess.Preview, sess.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSession overwrites the mutable session fields.
func (s *Store) UpdateSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, is_active = ?, last_activity = ?, preview = ?
		WHERE session_id = ?`,
		sess.Title, boolToInt(sess.IsActive), sess.LastActivity, sess.Preview, sess.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// UpdateSessionTotals records server-authoritative aggregates after a
// completed turn.
func (s *Store) UpdateSessionTotals(ctx context.Context, sessionID string, totals SessionTotals, preview string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET total_tokens = ?, total_cost = ?, message_count = ?,
			preview = ?, last_activity = ?
		WHERE session_id = ?`,
		totals.TotalTokens, totals.TotalCost, totals.MessageCount,
		preview, time.Now(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session totals: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSessions returns all sessions for a user, most recent first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, is_active, total_tokens, total_cost,
			message_count, created_at, last_activity, preview, user_id
		FROM sessions WHERE user_id = ?
		ORDER BY last_activity DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		var sess session.Session
		var active int
		if err := rows.Scan(&sess.SessionID, &sess.Title, &active, &sess.TotalTokens,
			&sess.TotalCost, &sess.MessageCount, &sess.CreatedAt, &sess.LastActivity,
			&sess.Preview, &sess.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.IsActive = active != 0
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func marshalThinking(view *thinking.View) (sql.NullString, error) {
	if view == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(view)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal thinking view: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
