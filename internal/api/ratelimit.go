package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
)

// rateLimitScript atomically increments a fixed-window counter and stamps
// its expiry on first hit. Returns the count after increment.
var rateLimitScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RateLimiter throttles the public, unauthenticated endpoints by client
// IP. Check-in and trustee tokens are bearer secrets, so the public
// surface must resist online guessing. Without Redis the limiter passes
// everything through (dev mode).
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRateLimiter creates an IP limiter allowing limit requests per window.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{rdb: rdb, limit: limit, window: window, prefix: "sentinel:ratelimit:"}
}

// Middleware enforces the limit. Redis errors fail open: losing the
// limiter must never take the check-in path down with it.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.rdb == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		count, err := rl.hit(ctx, clientIP(r))
		cancel()
		if err == nil && count > int64(rl.limit) {
			httputil.Error(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) hit(ctx context.Context, ip string) (int64, error) {
	return rateLimitScript.Run(ctx, rl.rdb,
		[]string{rl.prefix + ip}, rl.window.Milliseconds()).Int64()
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr from the
// proxy headers already.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
