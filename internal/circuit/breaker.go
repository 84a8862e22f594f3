// Package circuit isolates broker failures behind a three-state breaker built
// on sony/gobreaker. CLOSED passes calls and counts failures; OPEN fails fast
// for a cooldown; HALF_OPEN admits exactly one probe, closing on success and
// re-opening on failure. gobreaker's generation counters make the half-open
// probe race-safe against concurrent fast-fail callers.
package circuit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/stratrun/stratrun/internal/domain"
)

// State is the breaker position, re-exported so callers never import gobreaker.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config sets the trip threshold and the OPEN cooldown.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold uint32
	// Cooldown is how long the circuit stays OPEN before admitting a probe.
	Cooldown time.Duration
	// OnStateChange, if set, observes every transition (telemetry hook).
	OnStateChange func(name string, from, to State)
}

// Breaker wraps one downstream dependency.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker named for its downstream dependency.
func New(name string, cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // exactly one half-open probe
		Interval:    cfg.Cooldown,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", fromGobreaker(from).String()).
				Str("to", fromGobreaker(to).String()).
				Msg("Circuit breaker state change")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do executes fn through the breaker. While OPEN, or when a half-open probe is
// already in flight, it fails fast with domain.ErrCircuitOpen without invoking
// fn. fn's own error is passed through and counted as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ErrCircuitOpen
	}
	return err
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Name returns the downstream dependency name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

func (s State) String() string { return string(s) }

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}
