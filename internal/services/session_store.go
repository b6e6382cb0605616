package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"playtrack/internal/database"
	"playtrack/internal/models"
)

// SessionStore keeps the engine's own snapshot of every session it has
// seen. The upstream producer owns sessions; this table exists so the
// chronology can be derived even when the producer is unreachable and so
// the poller knows which sessions were already processed.
type SessionStore struct {
	q database.Queryer
}

// NewSessionStore creates a new session store
func NewSessionStore(db *database.DB) *SessionStore {
	return &SessionStore{q: db}
}

// WithTx returns a copy of the store bound to the given transaction
func (s *SessionStore) WithTx(tx *sql.Tx) *SessionStore {
	return &SessionStore{q: tx}
}

// Upsert records a session, keeping the original created_at on conflict
func (s *SessionStore) Upsert(ctx context.Context, session *models.Session) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, session.ID, session.Name, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// MarkProcessed stamps a session as ingested by the lifecycle engine
func (s *SessionStore) MarkProcessed(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE sessions SET processed_at = ? WHERE id = ?", at, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a session has already been ingested
func (s *SessionStore) IsProcessed(ctx context.Context, sessionID string) (bool, error) {
	var processed sql.NullTime
	err := s.q.QueryRowContext(ctx,
		"SELECT processed_at FROM sessions WHERE id = ?", sessionID).Scan(&processed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return processed.Valid, nil
}

// ListAll returns every known session ordered ascending by creation time,
// ties broken by id so the order is deterministic.
func (s *SessionStore) ListAll(ctx context.Context) ([]models.Session, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, name, created_at FROM sessions ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetByID returns one session or ErrNotFound
func (s *SessionStore) GetByID(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM sessions WHERE id = ?", sessionID).
		Scan(&sess.ID, &sess.Name, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}
