package broker

import (
	"context"
	"time"

	"github.com/stratrun/stratrun/internal/circuit"
	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/ratelimit"
)

// GuardedGateway decorates a Gateway with admission control and failure
// isolation. Resource acquisition order is fixed: rate limiter, then circuit
// breaker, never reversed. Every call runs under callTimeout so the engine
// loop can never block indefinitely on the broker.
type GuardedGateway struct {
	inner       Gateway
	limiter     *ratelimit.Limiter
	breaker     *circuit.Breaker
	callTimeout time.Duration
}

// NewGuarded wraps inner with the given limiter and breaker.
func NewGuarded(inner Gateway, limiter *ratelimit.Limiter, breaker *circuit.Breaker, callTimeout time.Duration) *GuardedGateway {
	return &GuardedGateway{
		inner:       inner,
		limiter:     limiter,
		breaker:     breaker,
		callTimeout: callTimeout,
	}
}

// Breaker exposes the breaker for state telemetry.
func (g *GuardedGateway) Breaker() *circuit.Breaker { return g.breaker }

func (g *GuardedGateway) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.limiter.Acquire(ctx, g.callTimeout); err != nil {
		return err
	}
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

// GetQuote implements Gateway.
func (g *GuardedGateway) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var quote domain.Quote
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		quote, err = g.inner.GetQuote(ctx, symbol)
		return err
	})
	return quote, err
}

// PlaceOrder implements Gateway.
func (g *GuardedGateway) PlaceOrder(ctx context.Context, order *domain.Order) (domain.Fill, error) {
	var fill domain.Fill
	err := g.guard(ctx, func(ctx context.Context) error {
		var err error
		fill, err = g.inner.PlaceOrder(ctx, order)
		return err
	})
	return fill, err
}

// CancelOrder implements Gateway.
func (g *GuardedGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.guard(ctx, func(ctx context.Context) error {
		return g.inner.CancelOrder(ctx, orderID)
	})
}
