package services

import (
	"errors"

	"playtrack/internal/database"
)

var (
	// ErrNotFound is returned when a referenced session, fingerprint or
	// alert does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflictRetryable signals a unique-hash race on concurrent create.
	// ProcessSession retries it as an update; it is never surfaced to
	// callers.
	ErrConflictRetryable = errors.New("conflict, retry as update")

	// ErrStoreUnavailable signals a transaction-layer failure. Propagated
	// with no partial commit.
	ErrStoreUnavailable = database.ErrUnavailable
)
