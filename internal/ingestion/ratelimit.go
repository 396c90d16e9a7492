package ingestion

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the spacing enforced between upstream requests.
const DefaultMinInterval = 1 * time.Second

// RateLimiter is a single gate shared by every request a Client issues.
// At most one request is released per interval; callers queue behind it.
type RateLimiter struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewRateLimiter creates a limiter releasing one request per interval.
// A non-positive interval disables spacing.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimiter{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the next request is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Interval returns the configured spacing.
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}
