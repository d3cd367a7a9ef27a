package net

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RetryPacer spaces connection attempts so that consecutive attempts start at
// least one interval apart. The first attempt is never delayed.
//
// The limiter is swapped atomically, so the interval can be reloaded while a
// dial loop is running.
type RetryPacer struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewRetryPacer creates a pacer. A non-positive interval disables pacing.
func NewRetryPacer(interval time.Duration) *RetryPacer {
	p := &RetryPacer{}
	p.limiter.Store(newRetryLimiter(interval))
	return p
}

func newRetryLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Wait blocks until the next attempt may start or ctx is done. When the next
// attempt could only start after the ctx deadline it fails at once with an
// error matching context.DeadlineExceeded.
func (p *RetryPacer) Wait(ctx context.Context) error {
	err := p.limiter.Load().Wait(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// Reload changes the interval. The next attempt is not delayed by the old interval.
func (p *RetryPacer) Reload(interval time.Duration) {
	p.limiter.Store(newRetryLimiter(interval))
}
