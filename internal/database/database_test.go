package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"
)

func setupDB(t *testing.T) (*DB, func()) {
	tmpFile := "test_database.db"
	db, err := New(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpFile)
		os.Remove(tmpFile + "-wal")
		os.Remove(tmpFile + "-shm")
	}
	return db, cleanup
}

func TestInitializeIsIdempotent(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	if err := db.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
}

func TestUniqueHashConstraint(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	insert := `INSERT INTO fingerprints
		(id, hash, category, title_stem, first_seen_session_id, first_seen_at, peak_severity)
		VALUES (?, ?, 'ai', 'npc stuck', 's1', ?, 'high')`

	if _, err := db.Exec(insert, "fp1", "abcd1234", time.Now()); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "fp2", "abcd1234", time.Now()); err == nil {
		t.Fatal("duplicate hash must violate the unique index")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO sessions (id, name, created_at) VALUES ('s1', 'Build 1', ?)",
			time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("rollback left %d rows behind", count)
	}
}

func TestWithTxCommits(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sessions (id, name, created_at) VALUES ('s1', 'Build 1', ?)",
			time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 committed row, got %d", count)
	}
}
