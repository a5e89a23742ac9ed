package session

import "github.com/zhouzirui/tenantfirstaid/backend/internal/logging"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for absorbed backend errors.
func WithLogger(log *logging.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStrictReads makes Get return backend errors instead of falling back
// to a fresh record. Unknown ids and undecodable values still fall back.
func WithStrictReads(strict bool) Option {
	return func(s *Store) {
		s.strictReads = strict
	}
}

// WithOptimisticLocking makes Set fail with ErrVersionConflict when the
// stored record changed since it was loaded.
func WithOptimisticLocking(enabled bool) Option {
	return func(s *Store) {
		s.optimistic = enabled
	}
}
