// Package store is the single source of truth for sentinel state. It wraps
// Postgres with row-level locking for per-user serialization, unique
// constraints for token and email uniqueness, and multi-statement
// transactions for the compound operations workers depend on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides database operations for sentinel entities.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a store backed by the given database.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source. Tests pin this to a fixed
// instant so expiry and deadline comparisons are deterministic.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time {
	return s.now()
}

// DB exposes the underlying handle for packages that share transactions
// with the store (the job queue lives in the same database).
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on error. Begin and
// commit failures surface as ErrUnavailable so callers retry.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping verifies database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
