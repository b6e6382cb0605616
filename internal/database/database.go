package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUnavailable wraps transaction-layer failures (begin, commit) so
// callers can tell a broken store from a domain error with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// Queryer is the subset of database/sql shared by *sql.DB and *sql.Tx,
// so store methods can run standalone or inside a transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// New opens (or creates) the SQLite database at the given path
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under the engine's single-writer discipline.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// Initialize creates all required tables
func (db *DB) Initialize() error {
	log.Println("🔍 Checking database schema...")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			title_stem TEXT NOT NULL,
			related_module TEXT NOT NULL DEFAULT '',
			first_seen_session_id TEXT NOT NULL,
			first_seen_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			peak_severity TEXT NOT NULL,
			occurrence_count INTEGER NOT NULL DEFAULT 0,
			regression_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_status ON fingerprints(status)`,
		`CREATE TABLE IF NOT EXISTS occurrences (
			id TEXT PRIMARY KEY,
			fingerprint_id TEXT NOT NULL REFERENCES fingerprints(id),
			session_id TEXT NOT NULL,
			finding_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			suggested_fix TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(fingerprint_id, session_id, finding_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_fingerprint ON occurrences(fingerprint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_session ON occurrences(session_id)`,
		`CREATE TABLE IF NOT EXISTS regression_alerts (
			id TEXT PRIMARY KEY,
			fingerprint_id TEXT NOT NULL REFERENCES fingerprints(id),
			fixed_session_id TEXT NOT NULL,
			fixed_session_name TEXT NOT NULL DEFAULT '',
			reappear_session_id TEXT NOT NULL,
			reappear_session_name TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			build_gap INTEGER NOT NULL DEFAULT 0,
			dismissed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dismissed ON regression_alerts(dismissed, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	log.Println("✅ Database initialized successfully")
	return nil
}

// WithTx runs fn inside a single transaction. Commit on nil error,
// rollback otherwise, so a crash mid-session leaves no half-updated state.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ErrUnavailable, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("⚠️ [DB] Rollback failed: %v (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w: %w", ErrUnavailable, err)
	}
	return nil
}
