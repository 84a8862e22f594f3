package signals

import (
	"context"
	"fmt"
	"math"

	"github.com/stratrun/stratrun/internal/domain"
)

// MeanReversion signals when the latest close sits far from its rolling mean
// in standard-deviation terms: stretched low is a buy, stretched high a sell.
type MeanReversion struct {
	Window int
	ZEntry float64
}

// NewMeanReversion uses a 20-bar window entered beyond 1.5 standard deviations.
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{Window: 20, ZEntry: 1.5}
}

func (m *MeanReversion) Name() string { return "meanrev" }

func (m *MeanReversion) Evaluate(ctx context.Context, view MarketView) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	if len(view.Candles) < m.Window {
		return hold(m.Name(), view.Symbol, "insufficient history", view.Quote.Timestamp), nil
	}

	window := view.Candles[len(view.Candles)-m.Window:]
	mean := sma(window, m.Window)
	variance := 0.0
	for _, c := range window {
		d := c.Close - mean
		variance += d * d
	}
	stdev := math.Sqrt(variance / float64(m.Window))
	if stdev == 0 {
		return hold(m.Name(), view.Symbol, "flat price series", view.Quote.Timestamp), nil
	}

	z := (window[len(window)-1].Close - mean) / stdev
	if math.Abs(z) < m.ZEntry {
		return hold(m.Name(), view.Symbol, fmt.Sprintf("z-score %.2f inside band", z), view.Quote.Timestamp), nil
	}

	action := domain.Buy
	if z > 0 {
		action = domain.Sell
	}

	return domain.Signal{
		Strategy:   m.Name(),
		Symbol:     view.Symbol,
		Action:     action,
		Confidence: clamp01(math.Abs(z) / 3),
		Reasons:    []string{fmt.Sprintf("z-score %.2f over %d bars", z, m.Window)},
		At:         view.Quote.Timestamp,
	}, nil
}
