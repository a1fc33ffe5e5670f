package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Release and extend must verify ownership before touching the key, or a
// holder whose lease expired could delete the next holder's lock. Both
// checks run as Lua so the compare and the write are one atomic step.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLock leases a Redis key via SET NX with a TTL. The key's value is
// a random ownership nonce minted per instance.
type RedisLock struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

// NewRedisLock creates a lease on "lock:<key>" with the given TTL.
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	nonce := make([]byte, 16)
	rand.Read(nonce)
	return &RedisLock{
		rdb:   rdb,
		key:   "lock:" + key,
		owner: hex.EncodeToString(nonce),
		ttl:   ttl,
	}
}

// Acquire takes the lease if the key is free.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

// Extend renews the TTL while this instance still owns the key.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	_, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.owner, ttl.Milliseconds()).Result()
	return err
}

// Release deletes the key while this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Result()
	return err
}
