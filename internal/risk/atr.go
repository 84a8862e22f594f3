// Package risk sizes trades, derives stop/target levels from volatility, and
// enforces portfolio-level limits.
package risk

import (
	"math"

	"github.com/stratrun/stratrun/internal/domain"
)

// ATR computes the Average True Range over the last n bars using Wilder
// smoothing. Returns 0 when there is not enough history.
func ATR(candles []domain.Candle, n int) float64 {
	if n < 1 || len(candles) < n+1 {
		return 0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		c := candles[i]
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		trs = append(trs, tr)
	}

	// Seed with a simple average of the first n true ranges, then smooth.
	atr := 0.0
	for _, tr := range trs[:n] {
		atr += tr
	}
	atr /= float64(n)
	for _, tr := range trs[n:] {
		atr = (atr*float64(n-1) + tr) / float64(n)
	}
	return atr
}

// ClassifyRegime buckets ATR relative to price. The bands are deliberately
// coarse; the regime only scales size, it never vetoes a trade by itself.
func ClassifyRegime(atr, price float64) domain.VolRegime {
	if price <= 0 || atr <= 0 {
		return domain.RegimeNormal
	}
	switch ratio := atr / price; {
	case ratio < 0.005:
		return domain.RegimeLow
	case ratio < 0.02:
		return domain.RegimeNormal
	case ratio < 0.04:
		return domain.RegimeHigh
	default:
		return domain.RegimeExtreme
	}
}
