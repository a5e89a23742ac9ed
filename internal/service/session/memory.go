package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryBackend keeps sessions in process memory. Suitable for local
// development and tests; data is lost on restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend. A positive ttl
// expires entries that have not been written for that long.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.data...), nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.put(id, data)
	return nil
}

// Update implements Backend.
func (b *MemoryBackend) Update(_ context.Context, id string, fn UpdateFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var current []byte
	entry, found := b.lookup(id)
	if found {
		current = append([]byte(nil), entry.data...)
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}
	b.put(id, next)
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, id)
	return nil
}

// Ping implements Backend.
func (b *MemoryBackend) Ping(context.Context) error { return nil }

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]memoryEntry)
	return nil
}

// lookup must be called with b.mu held.
func (b *MemoryBackend) lookup(id string) (memoryEntry, bool) {
	entry, ok := b.entries[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !b.now().Before(entry.expiresAt) {
		return memoryEntry{}, false
	}
	return entry, true
}

// put must be called with b.mu held.
func (b *MemoryBackend) put(id string, data []byte) {
	entry := memoryEntry{data: append([]byte(nil), data...)}
	if b.ttl > 0 {
		entry.expiresAt = b.now().Add(b.ttl)
	}
	b.entries[id] = entry
}
