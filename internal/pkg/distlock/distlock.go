// Package distlock provides the singleton leases that keep exactly one
// scheduler sweep and one release runner active across deployed processes.
package distlock

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a single-holder lease. An instance belongs to one goroutine;
// two goroutines wanting the same lease use two instances.
type DistLock interface {
	// Acquire takes the lease if nobody holds it. False means busy.
	Acquire(ctx context.Context) (bool, error)
	// Extend renews the lease for a holder outliving the original TTL.
	Extend(ctx context.Context, ttl time.Duration) error
	// Release drops the lease when still held by this instance.
	Release(ctx context.Context) error
}

// NewLock picks the backend: Redis when a client is configured, else a
// Postgres advisory lock. Both survive a holder crash, Redis via TTL
// expiry and Postgres via session teardown.
func NewLock(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if rdb != nil {
		return NewRedisLock(rdb, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}
