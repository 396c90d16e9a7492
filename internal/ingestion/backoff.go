package ingestion

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBaseBackoff = 1 * time.Second
	defaultMaxBackoff  = 32 * time.Second
	jitterFraction     = 0.3
)

// BackoffPolicy computes exponential retry delays with additive jitter:
// min(base*2^n, max) plus up to 30% of that value.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoffPolicy returns a policy with a 1s base, 32s cap and the given
// retry budget.
func NewBackoffPolicy(maxAttempts int) *BackoffPolicy {
	return &BackoffPolicy{
		Base:        defaultBaseBackoff,
		Max:         defaultMaxBackoff,
		MaxAttempts: maxAttempts,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes jitter reproducible.
func (b *BackoffPolicy) WithSeed(seed int64) *BackoffPolicy {
	b.mu.Lock()
	b.rnd = rand.New(rand.NewSource(seed))
	b.mu.Unlock()
	return b
}

// Ceiling returns the delay for attempt n before jitter.
func (b *BackoffPolicy) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Delay returns the wait before retry attempt n (0-indexed).
func (b *BackoffPolicy) Delay(attempt int) time.Duration {
	d := b.Ceiling(attempt)

	b.mu.Lock()
	if b.rnd == nil {
		b.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	f := b.rnd.Float64()
	b.mu.Unlock()

	return d + time.Duration(f*jitterFraction*float64(d))
}

// CanRetry reports whether attempt n may still be retried.
func (b *BackoffPolicy) CanRetry(attempt int) bool {
	return attempt < b.MaxAttempts
}

// Sleep waits Delay(attempt) or until ctx is done.
func (b *BackoffPolicy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.Delay(attempt))
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
