// Package ratelimit provides token-bucket admission control in front of the
// broker gateway using golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/stratrun/stratrun/internal/domain"
)

// Limiter is a token bucket with a fixed refill rate (sustained) and burst
// capacity. It holds its own internal lock (inside rate.Limiter) so the
// read-mostly broker path never contends with ledger locks.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter granting rps sustained requests per second with the
// given burst capacity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Acquire blocks until a token is granted, the timeout elapses, or ctx is
// cancelled. Timeout and limiter exhaustion surface as domain.ErrRateLimited;
// caller cancellation is passed through untouched.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return domain.ErrRateLimited
		}
		// rate.Limiter rejects waits that can never be satisfied within the
		// deadline before sleeping at all.
		return domain.ErrRateLimited
	}
	return nil
}

// Tokens returns the number of tokens currently available, for telemetry.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}

// SetRate updates the sustained rate on a running limiter.
func (l *Limiter) SetRate(rps float64) {
	l.limiter.SetLimit(rate.Limit(rps))
}
