package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stratrun/stratrun/internal/domain"
)

var errDownstream = errors.New("downstream unavailable")

func failing(ctx context.Context) error { return errDownstream }
func succeeding(ctx context.Context) error { return nil }

func trip(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Do(context.Background(), failing); !errors.Is(err, errDownstream) {
			t.Fatalf("failure %d returned %v, want downstream error", i, err)
		}
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("broker", Config{FailureThreshold: 3, Cooldown: time.Minute})

	trip(t, b, 3)
	if b.State() != Open {
		t.Fatalf("state = %s, want OPEN after 3 consecutive failures", b.State())
	}

	// Fast fail: the gateway must not be invoked while OPEN.
	invoked := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("open breaker returned %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("open breaker invoked the gateway")
	}
}

func TestBreaker_SingleProbeThenClose(t *testing.T) {
	b := New("broker", Config{FailureThreshold: 2, Cooldown: 30 * time.Millisecond})

	trip(t, b, 2)
	time.Sleep(50 * time.Millisecond)

	// Exactly one trial call passes; its success closes the circuit.
	if err := b.Do(context.Background(), succeeding); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %s, want CLOSED after successful probe", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := New("broker", Config{FailureThreshold: 2, Cooldown: 30 * time.Millisecond})

	trip(t, b, 2)
	time.Sleep(50 * time.Millisecond)

	if err := b.Do(context.Background(), failing); !errors.Is(err, errDownstream) {
		t.Fatalf("probe returned %v, want downstream error", err)
	}
	if b.State() != Open {
		t.Errorf("state = %s, want OPEN after failed probe", b.State())
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := New("broker", Config{FailureThreshold: 3, Cooldown: time.Minute})

	trip(t, b, 2)
	if err := b.Do(context.Background(), succeeding); err != nil {
		t.Fatalf("success call: %v", err)
	}
	trip(t, b, 2)
	if b.State() != Closed {
		t.Errorf("state = %s, want CLOSED: success must reset the consecutive count", b.State())
	}
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var transitions []State
	b := New("broker", Config{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})

	trip(t, b, 1)
	if len(transitions) != 1 || transitions[0] != Open {
		t.Errorf("transitions = %v, want [OPEN]", transitions)
	}
}
