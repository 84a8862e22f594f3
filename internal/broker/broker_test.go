package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratrun/stratrun/internal/circuit"
	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/ratelimit"
)

func paperFixture() (*StaticFeed, *PaperGateway) {
	feed := NewStaticFeed()
	feed.SetPrice("BTC-USD", 50000)
	return feed, NewPaper(feed, 2, 10) // 2bps slippage, 10bps fee
}

func TestPaper_BuyFillsWithSlippageAndFee(t *testing.T) {
	_, gw := paperFixture()

	order := &domain.Order{ID: "o1", Symbol: "BTC-USD", Side: domain.Buy, Qty: decimal.NewFromInt(2)}
	fill, err := gw.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	// 50000 + 2bps = 50010; fee = 10bps of 100020 notional.
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(50010)), "price %s", fill.Price)
	assert.True(t, fill.Fee.Equal(decimal.NewFromFloat(100.02)), "fee %s", fill.Fee)
	assert.Equal(t, domain.OrderFilled, order.Status)
}

func TestPaper_SellFillsBelowLast(t *testing.T) {
	_, gw := paperFixture()

	order := &domain.Order{ID: "o2", Symbol: "BTC-USD", Side: domain.Sell, Qty: decimal.NewFromInt(1)}
	fill, err := gw.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, fill.Price.Equal(decimal.NewFromInt(49990)), "price %s", fill.Price)
}

func TestPaper_UnknownSymbolIsNotRetryable(t *testing.T) {
	_, gw := paperFixture()

	_, err := gw.PlaceOrder(context.Background(), &domain.Order{Symbol: "NOPE-USD", Side: domain.Buy, Qty: decimal.NewFromInt(1)})
	require.Error(t, err)
	var be *domain.BrokerError
	require.ErrorAs(t, err, &be)
	assert.False(t, be.Retryable)
	assert.False(t, domain.IsRetryable(err))
}

func TestPaper_FailureInjection(t *testing.T) {
	_, gw := paperFixture()
	gw.FailNext(2, errors.New("exchange 502"))

	_, err := gw.GetQuote(context.Background(), "BTC-USD")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	_, err = gw.GetQuote(context.Background(), "BTC-USD")
	require.Error(t, err)

	_, err = gw.GetQuote(context.Background(), "BTC-USD")
	assert.NoError(t, err, "injected failures must be consumed")
}

func newGuarded(gw Gateway, rps float64, burst int, failures uint32) *GuardedGateway {
	return NewGuarded(
		gw,
		ratelimit.New(rps, burst),
		circuit.New("broker-test", circuit.Config{FailureThreshold: failures, Cooldown: time.Minute}),
		100*time.Millisecond,
	)
}

func TestGuarded_RateLimitSurfacesTypedError(t *testing.T) {
	_, gw := paperFixture()
	guarded := newGuarded(gw, 0.1, 1, 5)

	_, err := guarded.GetQuote(context.Background(), "BTC-USD")
	require.NoError(t, err)

	_, err = guarded.GetQuote(context.Background(), "BTC-USD")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestGuarded_BreakerOpensAndFailsFast(t *testing.T) {
	_, gw := paperFixture()
	gw.FailNext(3, errors.New("exchange down"))
	guarded := newGuarded(gw, 100, 100, 3)

	for i := 0; i < 3; i++ {
		_, err := guarded.GetQuote(context.Background(), "BTC-USD")
		require.Error(t, err)
	}

	// Circuit now open: the paper gateway must not be reached.
	before := len(gw.Fills())
	_, err := guarded.PlaceOrder(context.Background(), &domain.Order{Symbol: "BTC-USD", Side: domain.Buy, Qty: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, before, len(gw.Fills()))
}

func TestGuarded_RateLimiterAcquiredBeforeBreaker(t *testing.T) {
	// With the breaker already open, a call that also lacks tokens must fail
	// on the limiter first: acquisition order is limiter then breaker.
	_, gw := paperFixture()
	gw.FailNext(1, errors.New("boom"))
	guarded := newGuarded(gw, 0.1, 1, 1)

	_, err := guarded.GetQuote(context.Background(), "BTC-USD") // consumes token, trips breaker
	require.Error(t, err)

	_, err = guarded.GetQuote(context.Background(), "BTC-USD")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestWalkFeed_PricesStayPositiveAndMove(t *testing.T) {
	feed := NewWalkFeed(map[string]float64{"BTC-USD": 65000}, 0.002, 42)

	last := decimal.Zero
	moved := false
	for i := 0; i < 200; i++ {
		q, ok := feed.Quote("BTC-USD")
		require.True(t, ok)
		require.True(t, q.Last.IsPositive())
		assert.True(t, q.Bid.LessThan(q.Ask))
		if i > 0 && !q.Last.Equal(last) {
			moved = true
		}
		last = q.Last
	}
	assert.True(t, moved, "walk should not be flat")

	_, ok := feed.Quote("UNKNOWN")
	assert.False(t, ok)
}
