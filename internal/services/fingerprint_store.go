package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"playtrack/internal/database"
	"playtrack/internal/models"
)

// FingerprintStore is the authoritative record of every distinct issue
// ever seen: one row per content-derived identity. No operation deletes a
// fingerprint.
type FingerprintStore struct {
	q database.Queryer
}

// NewFingerprintStore creates a new fingerprint store
func NewFingerprintStore(db *database.DB) *FingerprintStore {
	return &FingerprintStore{q: db}
}

// WithTx returns a copy of the store bound to the given transaction
func (s *FingerprintStore) WithTx(tx *sql.Tx) *FingerprintStore {
	return &FingerprintStore{q: tx}
}

const fingerprintColumns = `id, hash, category, title_stem, related_module,
	first_seen_session_id, first_seen_at, status, peak_severity,
	occurrence_count, regression_count`

func scanFingerprint(row interface{ Scan(...interface{}) error }) (*models.Fingerprint, error) {
	var fp models.Fingerprint
	err := row.Scan(&fp.ID, &fp.Hash, &fp.Category, &fp.TitleStem, &fp.RelatedModule,
		&fp.FirstSeenSessionID, &fp.FirstSeenAt, &fp.Status, &fp.PeakSeverity,
		&fp.OccurrenceCount, &fp.RegressionCount)
	if err != nil {
		return nil, err
	}
	return &fp, nil
}

// FindByHash returns the fingerprint for a content hash, or ErrNotFound
func (s *FingerprintStore) FindByHash(ctx context.Context, hash string) (*models.Fingerprint, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+fingerprintColumns+" FROM fingerprints WHERE hash = ?", hash)
	fp, err := scanFingerprint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find fingerprint by hash: %w", err)
	}
	return fp, nil
}

// GetByID returns one fingerprint or ErrNotFound
func (s *FingerprintStore) GetByID(ctx context.Context, id string) (*models.Fingerprint, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+fingerprintColumns+" FROM fingerprints WHERE id = ?", id)
	fp, err := scanFingerprint(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return fp, nil
}

// Create inserts a new fingerprint. A unique-index violation on hash means
// another writer created the identity first; surfaced as
// ErrConflictRetryable so the caller retries the match as an update.
func (s *FingerprintStore) Create(ctx context.Context, fp *models.Fingerprint) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO fingerprints (`+fingerprintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fp.ID, fp.Hash, fp.Category, fp.TitleStem, fp.RelatedModule,
		fp.FirstSeenSessionID, fp.FirstSeenAt, fp.Status, fp.PeakSeverity,
		fp.OccurrenceCount, fp.RegressionCount)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflictRetryable
		}
		return fmt.Errorf("failed to create fingerprint: %w", err)
	}
	return nil
}

// UpdateStatusAndCounters writes back the mutable lifecycle fields; the
// identity-defining attributes are immutable after creation.
func (s *FingerprintStore) UpdateStatusAndCounters(ctx context.Context, id string, status models.FingerprintStatus, peakSeverity models.Severity, occurrenceCount, regressionCount int) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE fingerprints
		SET status = ?, peak_severity = ?, occurrence_count = ?, regression_count = ?
		WHERE id = ?
	`, status, peakSeverity, occurrenceCount, regressionCount, id)
	if err != nil {
		return fmt.Errorf("failed to update fingerprint: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkResolved forces status to resolved regardless of current state.
// Counters are left untouched; a later occurrence reopens the issue as
// regressed.
func (s *FingerprintStore) MarkResolved(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE fingerprints SET status = ? WHERE id = ?", models.StatusResolved, id)
	if err != nil {
		return fmt.Errorf("failed to mark fingerprint resolved: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns every fingerprint, most chronically unstable first
// (regression count desc, then occurrence count desc).
func (s *FingerprintStore) ListAll(ctx context.Context) ([]models.Fingerprint, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+fingerprintColumns+` FROM fingerprints
		ORDER BY regression_count DESC, occurrence_count DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	return collectFingerprints(rows)
}

// ListByStatus returns fingerprints whose status is in the given set
func (s *FingerprintStore) ListByStatus(ctx context.Context, statuses ...models.FingerprintStatus) ([]models.Fingerprint, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+fingerprintColumns+` FROM fingerprints
		WHERE status IN (`+placeholders+`)
		ORDER BY regression_count DESC, occurrence_count DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints by status: %w", err)
	}
	return collectFingerprints(rows)
}

// CountByStatus returns per-status totals across the whole store
func (s *FingerprintStore) CountByStatus(ctx context.Context) (map[models.FingerprintStatus]int, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM fingerprints GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FingerprintStatus]int)
	for rows.Next() {
		var status models.FingerprintStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func collectFingerprints(rows *sql.Rows) ([]models.Fingerprint, error) {
	defer rows.Close()

	var fps []models.Fingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, *fp)
	}
	return fps, rows.Err()
}
