package session

import "context"

// UpdateFunc computes the value to store from the current one.
// found is false when nothing is stored under the key.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Backend is a byte-oriented key-value store holding encoded session records.
type Backend interface {
	// Load returns ErrNotFound when the key is absent.
	Load(ctx context.Context, id string) ([]byte, error)
	// Save overwrites the value.
	Save(ctx context.Context, id string, data []byte) error
	// Update atomically replaces the value with fn's result. An error from
	// fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, fn UpdateFunc) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
