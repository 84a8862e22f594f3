package broker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
)

// WalkFeed is a random-walk quote source for paper sessions without a live
// market connection. Each Quote call advances the symbol one step; prices
// stay strictly positive.
type WalkFeed struct {
	mu      sync.Mutex
	prices  map[string]float64
	stepPct float64
	rng     *rand.Rand
}

// NewWalkFeed seeds each symbol at its starting price. stepPct bounds the
// per-step move as a fraction of price (0.002 = up to ±0.2% per tick).
func NewWalkFeed(seeds map[string]float64, stepPct float64, seed int64) *WalkFeed {
	prices := make(map[string]float64, len(seeds))
	for sym, p := range seeds {
		prices[sym] = p
	}
	if stepPct <= 0 {
		stepPct = 0.002
	}
	return &WalkFeed{
		prices:  prices,
		stepPct: stepPct,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Quote implements QuoteFeed.
func (f *WalkFeed) Quote(symbol string) (domain.Quote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[symbol]
	if !ok {
		return domain.Quote{}, false
	}

	price *= 1 + (f.rng.Float64()*2-1)*f.stepPct
	if price <= 0 {
		price = f.prices[symbol]
	}
	f.prices[symbol] = price

	last := decimal.NewFromFloat(price)
	spread := last.Mul(decimal.NewFromFloat(0.0002))
	return domain.Quote{
		Symbol:    symbol,
		Bid:       last.Sub(spread),
		Ask:       last.Add(spread),
		Last:      last,
		Timestamp: time.Now().UTC(),
	}, true
}
