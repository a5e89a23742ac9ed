package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/chat"
)

// Store maps session ids to chat records on top of a Backend.
//
// Reads never fail for unknown ids: a missing or undecodable value yields a
// fresh record. Every write is a full snapshot of the record.
type Store struct {
	backend     Backend
	log         *logging.Logger
	strictReads bool
	optimistic  bool
}

// NewStore wraps backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored record for id or a fresh one.
func (s *Store) Get(ctx context.Context, id string) (chat.Record, error) {
	data, err := s.backend.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return chat.NewRecord("", ""), nil
	}
	if err != nil {
		if s.strictReads {
			return chat.Record{}, fmt.Errorf("load session: %w", err)
		}
		s.log.Warn().Err(err).Str("session_id", id).Msg("session backend read failed, using a fresh session")
		return chat.NewRecord("", ""), nil
	}

	rec, err := decodeRecord(data)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("stored session is unreadable, using a fresh session")
		return chat.NewRecord("", ""), nil
	}
	return rec, nil
}

// Set stores rec under id, replacing whatever was there.
func (s *Store) Set(ctx context.Context, id string, rec chat.Record) error {
	if !s.optimistic {
		rec.Version++
		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := s.backend.Save(ctx, id, data); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	}

	err := s.backend.Update(ctx, id, func(current []byte, found bool) ([]byte, error) {
		if storedVersion(current, found) != rec.Version {
			return nil, ErrVersionConflict
		}
		next := rec
		next.Version++
		return encodeRecord(next)
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Init replaces the record for id with an empty conversation in the given
// jurisdiction. An empty city is stored as chat.NoCity.
func (s *Store) Init(ctx context.Context, id, city, state string) (chat.Record, error) {
	rec := chat.NewRecord(chat.NormalizeCity(city), state)

	err := s.backend.Update(ctx, id, func(current []byte, found bool) ([]byte, error) {
		rec.Version = storedVersion(current, found) + 1
		return encodeRecord(rec)
	})
	if err != nil {
		return chat.Record{}, fmt.Errorf("init session: %w", err)
	}
	return rec, nil
}

// Delete removes the record for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func encodeRecord(rec chat.Record) ([]byte, error) {
	if rec.Messages == nil {
		rec.Messages = []chat.Message{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (chat.Record, error) {
	var rec chat.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return chat.Record{}, err
	}
	if rec.Messages == nil {
		rec.Messages = []chat.Message{}
	}
	return rec, nil
}

// storedVersion treats missing and undecodable values as version 0.
func storedVersion(current []byte, found bool) int64 {
	if !found {
		return 0
	}
	rec, err := decodeRecord(current)
	if err != nil {
		return 0
	}
	return rec.Version
}
