package domain

import "time"

// RateLimitResult is the outcome of a fixed-window rate limit check.
// Remaining is the number of requests left in the current window; ResetAt is
// when the window rolls over.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
