package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisRateLimitPrefix = "carebook:rl"

// RedisRateLimiter counts requests per client in fixed windows stored in
// Redis, so every instance behind the load balancer spends one budget.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

// The script returns the count in the current window and the milliseconds
// left before the window key expires.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {n, ttl}
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultRedisRateLimitPrefix
	}
	return &RedisRateLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: prefix, now: time.Now}
}

// windowResult is the state of one client's current window.
type windowResult struct {
	count     int64
	remaining time.Duration
}

// Middleware rejects requests over budget with 429 and a Retry-After that
// points at the end of the window. When Redis fails, failOpen lets traffic
// through instead of answering 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := rl.hit(r.Context(), clientKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("redis rate limiter unavailable", "request_id", RequestIDFromContext(r.Context()), "fail_open", failOpen, "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "TRANSIENT", "rate limiter unavailable", true)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(rl.limit-res.count, 0), 10))
			if res.count > rl.limit {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.remaining, rl.window)))
				WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", true)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) windowKey(client string) string {
	slot := rl.now().UnixMilli() / rl.window.Milliseconds()
	return rl.prefix + ":" + client + ":" + strconv.FormatInt(slot, 10)
}

func (rl *RedisRateLimiter) hit(ctx context.Context, client string) (windowResult, error) {
	vals, err := fixedWindowScript.Run(ctx, rl.rdb, []string{rl.windowKey(client)}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return windowResult{}, err
	}
	if len(vals) != 2 {
		return windowResult{}, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	if vals[0] <= 0 {
		return windowResult{}, errors.New("rate limit script returned a non-positive count")
	}
	return windowResult{count: vals[0], remaining: time.Duration(vals[1]) * time.Millisecond}, nil
}

// retryAfterSeconds rounds the time left in the window up to whole seconds.
// A key without a ttl (PTTL < 0) falls back to the full window.
func retryAfterSeconds(left, window time.Duration) int {
	if left <= 0 {
		left = window
	}
	return int((left + time.Second - 1) / time.Second)
}
