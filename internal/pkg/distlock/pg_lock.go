package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"
)

// PGAdvisoryLock implements DistLock on pg_try_advisory_lock. Advisory
// locks are session-scoped, so the lock pins a dedicated connection for
// as long as it is held: acquire and unlock must run on the same session,
// and a pooled *sql.DB would hand them different ones. The database drops
// the lock when the pinned connection dies, which stands in for the Redis
// TTL.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives the numeric advisory-lock ID from key via
// FNV-1a, so every process maps the same key to the same lock.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire checks a connection out of the pool and tries the lock on it
// without blocking. On failure the connection goes straight back; on
// success it stays pinned until Release.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return false, err
		}
		l.conn = conn
	}

	var ok bool
	err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok)
	if err != nil {
		l.unpin()
		return false, err
	}
	if !ok {
		l.unpin()
	}
	return ok, nil
}

// Extend is a no-op. Session locks have no TTL to renew.
func (l *PGAdvisoryLock) Extend(ctx context.Context, ttl time.Duration) error {
	return nil
}

// Release unlocks on the pinned connection and returns it to the pool.
// Closing the connection would drop the lock on its own; the explicit
// unlock keeps the returned connection clean for the next borrower.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.unpin()
	return err
}

func (l *PGAdvisoryLock) unpin() {
	l.conn.Close()
	l.conn = nil
}
