package signals

import (
	"context"
	"fmt"

	"github.com/stratrun/stratrun/internal/domain"
)

// Breakout signals when the latest close escapes the prior N-bar range.
type Breakout struct {
	Lookback int
}

// NewBreakout watches a 20-bar range.
func NewBreakout() *Breakout {
	return &Breakout{Lookback: 20}
}

func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) Evaluate(ctx context.Context, view MarketView) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	// Need the lookback range plus the bar breaking out of it.
	if len(view.Candles) < b.Lookback+1 {
		return hold(b.Name(), view.Symbol, "insufficient history", view.Quote.Timestamp), nil
	}

	last := view.Candles[len(view.Candles)-1]
	prior := view.Candles[len(view.Candles)-1-b.Lookback : len(view.Candles)-1]

	high, low := prior[0].High, prior[0].Low
	for _, c := range prior[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	if high <= low {
		return hold(b.Name(), view.Symbol, "degenerate range", view.Quote.Timestamp), nil
	}
	span := high - low

	switch {
	case last.Close > high:
		return domain.Signal{
			Strategy:   b.Name(),
			Symbol:     view.Symbol,
			Action:     domain.Buy,
			Confidence: clamp01((last.Close - high) / span * 5),
			Reasons:    []string{fmt.Sprintf("close %.2f above %d-bar high %.2f", last.Close, b.Lookback, high)},
			At:         view.Quote.Timestamp,
		}, nil
	case last.Close < low:
		return domain.Signal{
			Strategy:   b.Name(),
			Symbol:     view.Symbol,
			Action:     domain.Sell,
			Confidence: clamp01((low - last.Close) / span * 5),
			Reasons:    []string{fmt.Sprintf("close %.2f below %d-bar low %.2f", last.Close, b.Lookback, low)},
			At:         view.Quote.Timestamp,
		}, nil
	default:
		return hold(b.Name(), view.Symbol, "inside range", view.Quote.Timestamp), nil
	}
}
