// Package redisadapter holds the Redis-backed distributed rate limiter.
package redisadapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"savanna-sms/internal/core/domain"
)

// FixedWindowLimiter implements port.RateLimiter with fixed-window counters
// in Redis. Each (scope, window-start) pair is one counter with a TTL equal
// to the window length, so stale windows self-clean. The limiter fails
// open: when Redis is unreachable the check reports allowed, because the
// upstream gateway enforces its own hard ceiling independently.
type FixedWindowLimiter struct {
	cmd       redis.Cmdable
	keyPrefix string
	logger    *slog.Logger
}

// NewFixedWindowLimiter creates a limiter over the given Redis client.
func NewFixedWindowLimiter(cmd redis.Cmdable, logger *slog.Logger) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		cmd:       cmd,
		keyPrefix: "ratelimit:",
		logger:    logger,
	}
}

// Check increments the counter of the current window for the scope and
// reports whether the request fits under max. The increment and the expiry
// run in one pipeline so a crashed client cannot leave an immortal key.
func (l *FixedWindowLimiter) Check(ctx context.Context, scope string, max int, window time.Duration) (domain.RateLimitResult, error) {
	windowStart := time.Now().Truncate(window)
	resetAt := windowStart.Add(window)
	if l.cmd == nil {
		// no counter store configured at all; same fail-open stance
		return domain.RateLimitResult{Allowed: true, Remaining: max, ResetAt: resetAt}, nil
	}
	key := fmt.Sprintf("%s%s:%d", l.keyPrefix, scope, windowStart.UnixMilli())

	pipe := l.cmd.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter store unavailable, failing open",
			slog.String("scope", scope), slog.Any("error", err))
		return domain.RateLimitResult{Allowed: true, Remaining: max, ResetAt: resetAt}, nil
	}

	count := int(incr.Val())
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitResult{
		Allowed:   count <= max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
