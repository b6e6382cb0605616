package services

import (
	"context"
	"database/sql"
	"fmt"

	"playtrack/internal/database"
	"playtrack/internal/models"
)

// AlertStore persists regression alerts
type AlertStore struct {
	q database.Queryer
}

// NewAlertStore creates a new alert store
func NewAlertStore(db *database.DB) *AlertStore {
	return &AlertStore{q: db}
}

// WithTx returns a copy of the store bound to the given transaction
func (s *AlertStore) WithTx(tx *sql.Tx) *AlertStore {
	return &AlertStore{q: tx}
}

const alertColumns = `id, fingerprint_id, fixed_session_id, fixed_session_name,
	reappear_session_id, reappear_session_name, category, severity, title,
	build_gap, dismissed, created_at`

// Create inserts a new regression alert
func (s *AlertStore) Create(ctx context.Context, alert *models.RegressionAlert) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO regression_alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.FingerprintID, alert.FixedSessionID, alert.FixedSessionName,
		alert.ReappearSessionID, alert.ReappearSessionName, alert.Category,
		alert.Severity, alert.Title, alert.BuildGap, alert.Dismissed, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// Dismiss sets dismissed on an alert; fingerprint state is unaffected
func (s *AlertStore) Dismiss(ctx context.Context, alertID string) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE regression_alerts SET dismissed = 1 WHERE id = ?", alertID)
	if err != nil {
		return fmt.Errorf("failed to dismiss alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns non-dismissed alerts, newest first
func (s *AlertStore) ListActive(ctx context.Context) ([]models.RegressionAlert, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM regression_alerts
		WHERE dismissed = 0
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return collectAlerts(rows)
}

// ListAll returns up to limit alerts, newest first
func (s *AlertStore) ListAll(ctx context.Context, limit int) ([]models.RegressionAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM regression_alerts
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return collectAlerts(rows)
}

// CountActive returns the number of non-dismissed alerts
func (s *AlertStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM regression_alerts WHERE dismissed = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active alerts: %w", err)
	}
	return count, nil
}

func collectAlerts(rows *sql.Rows) ([]models.RegressionAlert, error) {
	defer rows.Close()

	var alerts []models.RegressionAlert
	for rows.Next() {
		var a models.RegressionAlert
		if err := rows.Scan(&a.ID, &a.FingerprintID, &a.FixedSessionID, &a.FixedSessionName,
			&a.ReappearSessionID, &a.ReappearSessionName, &a.Category, &a.Severity,
			&a.Title, &a.BuildGap, &a.Dismissed, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
