package services

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"playtrack/internal/models"
)

const chronologyCacheKey = "ordered_sessions"

// Chronology derives a total order over all known sessions by creation
// time so the engine can answer "how many builds ago". The ordering is
// cached briefly for read paths that walk it repeatedly within one batch;
// correctness never depends on the cache, and ProcessSession always orders
// from its own transaction snapshot.
type Chronology struct {
	sessions *SessionStore
	cache    *gocache.Cache
}

// NewChronology creates a new session chronology
func NewChronology(sessions *SessionStore) *Chronology {
	return &Chronology{
		sessions: sessions,
		cache:    gocache.New(30*time.Second, time.Minute),
	}
}

// Ordered returns all known sessions sorted ascending by creation time,
// ties broken by session id.
func (c *Chronology) Ordered(ctx context.Context) ([]models.Session, error) {
	if cached, found := c.cache.Get(chronologyCacheKey); found {
		return cached.([]models.Session), nil
	}

	ordered, err := c.sessions.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	c.cache.Set(chronologyCacheKey, ordered, gocache.DefaultExpiration)
	return ordered, nil
}

// Invalidate drops the cached ordering; called after every processed
// session so newly recorded sessions become visible to readers.
func (c *Chronology) Invalidate() {
	c.cache.Delete(chronologyCacheKey)
}

// OrderSessions sorts a session slice ascending by creation time, ties
// broken by id
func OrderSessions(sessions []models.Session) []models.Session {
	ordered := make([]models.Session, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})
	return ordered
}

// IndexOf returns the zero-based chronological rank of a session, or -1
// if it is unknown.
func IndexOf(sessionID string, ordered []models.Session) int {
	for i, sess := range ordered {
		if sess.ID == sessionID {
			return i
		}
	}
	return -1
}

// LastSessionWithOccurrence scans the ordered list backward from just
// before the given session and returns the most recent session that has a
// recorded occurrence of the fingerprint, or "" if none exists. The scan
// is by chronological order, not processing order.
func LastSessionWithOccurrence(fingerprintID string, beforeSessionID string, ordered []models.Session, occurred map[string]bool) string {
	start := IndexOf(beforeSessionID, ordered)
	if start == -1 {
		start = len(ordered)
	}
	for i := start - 1; i >= 0; i-- {
		if occurred[ordered[i].ID] {
			return ordered[i].ID
		}
	}
	return ""
}
