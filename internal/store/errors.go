package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// Tagged failures surfaced by store operations. Callers branch with
// errors.Is; the HTTP layer maps them to response codes and workers use
// ErrUnavailable to decide retriability.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyResolved  = errors.New("already resolved")
	ErrExpired          = errors.New("expired")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyTriggered = errors.New("already triggered")
	ErrUnavailable      = errors.New("store unavailable")
)

// unavailable wraps connection-level failures so callers can treat them as
// transient. Anything else passes through unchanged.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
