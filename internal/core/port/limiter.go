package port

import (
	"context"
	"errors"
	"time"

	"savanna-sms/internal/core/domain"
)

// ErrRateLimited marks a batch attempt rejected by a saturated rate-limit
// window. It is retryable: the work queue re-attempts the whole batch after
// backoff, as opposed to terminal send failures which settle per message.
var ErrRateLimited = errors.New("rate limit saturated")

// RateLimiter is a distributed fixed-window counter. A send consults two
// scopes (upstream traffic account and tenant) and proceeds only when both
// are under their ceiling. Implementations fail open: when the shared
// counter store is unavailable the check reports allowed, since the upstream
// gateway enforces its own hard ceiling independently.
type RateLimiter interface {
	Check(ctx context.Context, scope string, max int, window time.Duration) (domain.RateLimitResult, error)
}
