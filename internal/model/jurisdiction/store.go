package jurisdiction

import (
	"strings"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

// Store exposes the supported jurisdictions to HTTP handlers.
type Store interface {
	List() []Jurisdiction
	FindByState(state string) (Jurisdiction, bool)
	Supports(city, state string) bool
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Jurisdiction
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied jurisdictions.
func NewMemoryStore(items []Jurisdiction) *MemoryStore {
	return &MemoryStore{items: append([]Jurisdiction(nil), items...)}
}

// List returns the catalogue.
func (s *MemoryStore) List() []Jurisdiction {
	return append([]Jurisdiction(nil), s.items...)
}

// FindByState looks up a state by its two-letter code, ignoring case.
func (s *MemoryStore) FindByState(state string) (Jurisdiction, bool) {
	state = strings.TrimSpace(state)
	for _, item := range s.items {
		if strings.EqualFold(item.State, state) {
			return item, true
		}
	}
	return Jurisdiction{}, false
}

// Supports reports whether (city, state) can be used to start a session.
// An empty or sentinel city selects the state-wide corpus.
func (s *MemoryStore) Supports(city, state string) bool {
	item, ok := s.FindByState(state)
	if !ok {
		return false
	}
	if !chat.HasCity(city) {
		return true
	}
	return item.HasCity(strings.TrimSpace(city))
}
