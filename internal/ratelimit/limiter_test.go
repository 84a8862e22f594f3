package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stratrun/stratrun/internal/domain"
)

func TestLimiter_BurstGrantsExactly(t *testing.T) {
	l := New(1, 5)

	granted := 0
	for i := 0; i < 6; i++ {
		if l.Allow() {
			granted++
		}
	}
	if granted != 5 {
		t.Errorf("burst+1 instantaneous requests granted %d, want exactly 5", granted)
	}
}

func TestLimiter_AcquireTimesOutAsRateLimited(t *testing.T) {
	l := New(0.1, 1) // one token, ten-second refill

	if err := l.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	err := l.Acquire(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("exhausted bucket returned %v, want ErrRateLimited", err)
	}
}

func TestLimiter_AcquireAfterRefill(t *testing.T) {
	l := New(50, 1)

	if err := l.Acquire(context.Background(), time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	// 50 rps refills a token in 20ms, well inside the timeout.
	if err := l.Acquire(context.Background(), time.Second); err != nil {
		t.Errorf("acquire after refill: %v", err)
	}
}

func TestLimiter_CallerCancellationPassesThrough(t *testing.T) {
	l := New(0.1, 1)
	l.Allow() // drain

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled acquire returned %v, want context.Canceled", err)
	}
}
