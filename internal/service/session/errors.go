package session

import "errors"

var (
	// ErrVersionConflict is returned by Set when optimistic locking is on and
	// another request saved the session after it was loaded.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrInvalidBackend is returned by Open for an unknown backend name.
	ErrInvalidBackend = errors.New("invalid session backend")
	// ErrNotFound is returned by backends when no value is stored under a key.
	// Store never surfaces it.
	ErrNotFound = errors.New("session not found")
)
