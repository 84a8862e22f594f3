package signals

import (
	"context"
	"fmt"

	"github.com/stratrun/stratrun/internal/domain"
)

// Momentum signals on a fast/slow SMA crossover. The confidence scales with
// the relative spread between the averages.
type Momentum struct {
	Fast int
	Slow int
}

// NewMomentum uses conventional 10/30 windows unless overridden.
func NewMomentum() *Momentum {
	return &Momentum{Fast: 10, Slow: 30}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Evaluate(ctx context.Context, view MarketView) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	if len(view.Candles) < m.Slow {
		return hold(m.Name(), view.Symbol, "insufficient history", view.Quote.Timestamp), nil
	}

	fast := sma(view.Candles, m.Fast)
	slow := sma(view.Candles, m.Slow)
	if slow == 0 {
		return hold(m.Name(), view.Symbol, "degenerate price series", view.Quote.Timestamp), nil
	}

	spread := (fast - slow) / slow
	confidence := clamp01(abs(spread) * 25)

	action := domain.Hold
	if spread > 0 {
		action = domain.Buy
	} else if spread < 0 {
		action = domain.Sell
	}

	return domain.Signal{
		Strategy:   m.Name(),
		Symbol:     view.Symbol,
		Action:     action,
		Confidence: confidence,
		Reasons:    []string{fmt.Sprintf("sma%d/sma%d spread %.4f", m.Fast, m.Slow, spread)},
		At:         view.Quote.Timestamp,
	}, nil
}

// sma averages the closes of the last n candles.
func sma(candles []domain.Candle, n int) float64 {
	if n > len(candles) {
		n = len(candles)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
