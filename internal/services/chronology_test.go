package services

import (
	"context"
	"testing"
	"time"

	"playtrack/internal/models"
)

func TestOrderSessions(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions := []models.Session{
		{ID: "c", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "a", CreatedAt: base},
		{ID: "b", CreatedAt: base.Add(time.Hour)},
	}

	ordered := OrderSessions(sessions)
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, ordered[i].ID)
		}
	}

	// Input slice untouched
	if sessions[0].ID != "c" {
		t.Error("OrderSessions must not mutate its input")
	}
}

func TestOrderSessionsTieBreak(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions := []models.Session{
		{ID: "z", CreatedAt: at},
		{ID: "a", CreatedAt: at},
	}

	ordered := OrderSessions(sessions)
	if ordered[0].ID != "a" || ordered[1].ID != "z" {
		t.Errorf("equal timestamps must order by id, got %s, %s", ordered[0].ID, ordered[1].ID)
	}
}

func TestIndexOf(t *testing.T) {
	ordered := []models.Session{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	if got := IndexOf("b", ordered); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := IndexOf("missing", ordered); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
}

func TestLastSessionWithOccurrence(t *testing.T) {
	ordered := []models.Session{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}, {ID: "s4"}}
	occurred := map[string]bool{"s1": true, "s2": true, "s4": true}

	// Backward from just before s4: s2 is the most recent occurrence.
	if got := LastSessionWithOccurrence("fp", "s4", ordered, occurred); got != "s2" {
		t.Errorf("expected s2, got %q", got)
	}

	// The current session's own occurrence is excluded from the scan.
	if got := LastSessionWithOccurrence("fp", "s1", ordered, occurred); got != "" {
		t.Errorf("expected no earlier occurrence, got %q", got)
	}

	// Unknown session scans the whole history.
	if got := LastSessionWithOccurrence("fp", "unknown", ordered, occurred); got != "s4" {
		t.Errorf("expected s4, got %q", got)
	}
}

func TestChronologyCaching(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := NewSessionStore(db)
	chrono := NewChronology(store)

	if err := store.Upsert(ctx, testSession("s1", 0)); err != nil {
		t.Fatal(err)
	}

	ordered, err := chrono.Ordered(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 1 {
		t.Fatalf("expected 1 session, got %d", len(ordered))
	}

	// A second session is invisible until the cache is invalidated.
	if err := store.Upsert(ctx, testSession("s2", 10)); err != nil {
		t.Fatal(err)
	}
	ordered, err = chrono.Ordered(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 1 {
		t.Fatalf("expected cached ordering of 1 session, got %d", len(ordered))
	}

	chrono.Invalidate()
	ordered, err = chrono.Ordered(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 2 {
		t.Fatalf("expected 2 sessions after invalidation, got %d", len(ordered))
	}
}
