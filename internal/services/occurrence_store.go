package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"playtrack/internal/database"
	"playtrack/internal/models"
)

// OccurrenceStore is the append-only ledger of every
// (fingerprint, session, finding) observation, the evidentiary trail
// behind the fingerprint counters.
type OccurrenceStore struct {
	q database.Queryer
}

// NewOccurrenceStore creates a new occurrence store
func NewOccurrenceStore(db *database.DB) *OccurrenceStore {
	return &OccurrenceStore{q: db}
}

// WithTx returns a copy of the store bound to the given transaction
func (s *OccurrenceStore) WithTx(tx *sql.Tx) *OccurrenceStore {
	return &OccurrenceStore{q: tx}
}

// Append records one observation. Idempotent: if the
// (fingerprint, session, finding) triple already exists the call is a
// silent no-op, which makes reprocessing a session safe.
func (s *OccurrenceStore) Append(ctx context.Context, fingerprintID, sessionID string, finding *models.Finding) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO occurrences
			(id, fingerprint_id, session_id, finding_id, severity, title,
			 description, suggested_fix, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint_id, session_id, finding_id) DO NOTHING
	`, uuid.NewString(), fingerprintID, sessionID, finding.ID,
		models.NormalizeSeverity(finding.Severity), finding.Title,
		finding.Description, finding.SuggestedFix, finding.Confidence, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append occurrence: %w", err)
	}
	return nil
}

// ListByFingerprint returns the full trail for one fingerprint, newest
// first
func (s *OccurrenceStore) ListByFingerprint(ctx context.Context, fingerprintID string) ([]models.Occurrence, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, fingerprint_id, session_id, finding_id, severity, title,
		       description, suggested_fix, confidence, created_at
		FROM occurrences
		WHERE fingerprint_id = ?
		ORDER BY created_at DESC
	`, fingerprintID)
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", err)
	}
	defer rows.Close()

	var occs []models.Occurrence
	for rows.Next() {
		var occ models.Occurrence
		if err := rows.Scan(&occ.ID, &occ.FingerprintID, &occ.SessionID, &occ.FindingID,
			&occ.Severity, &occ.Title, &occ.Description, &occ.SuggestedFix,
			&occ.Confidence, &occ.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		occs = append(occs, occ)
	}
	return occs, rows.Err()
}

// CountDistinctSessions is the authoritative source for a fingerprint's
// occurrence count. Recomputed from the ledger rather than incremented on
// write, so it stays correct under idempotent re-appends.
func (s *OccurrenceStore) CountDistinctSessions(ctx context.Context, fingerprintID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT session_id) FROM occurrences WHERE fingerprint_id = ?",
		fingerprintID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count occurrence sessions: %w", err)
	}
	return count, nil
}

// SessionsWithOccurrence returns the set of session ids that carry at
// least one occurrence of the fingerprint. The chronology uses this for
// the backward last-fix scan.
func (s *OccurrenceStore) SessionsWithOccurrence(ctx context.Context, fingerprintID string) (map[string]bool, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT DISTINCT session_id FROM occurrences WHERE fingerprint_id = ?", fingerprintID)
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrence sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		sessions[id] = true
	}
	return sessions, rows.Err()
}
