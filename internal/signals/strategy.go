// Package signals holds the strategy plug-ins and the aggregator that folds
// their per-symbol opinions into one trade decision.
package signals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stratrun/stratrun/internal/domain"
)

// MarketView is the read-only slice of market state handed to every strategy:
// the latest quote, the candle window (oldest first), and the currently held
// position if any. Strategies are side-effect-free and deterministic over it.
type MarketView struct {
	Symbol   string
	Quote    domain.Quote
	Candles  []domain.Candle
	Position *domain.Position
}

// Price returns the quote's last price as a float for indicator math.
func (v MarketView) Price() float64 {
	f, _ := v.Quote.Last.Float64()
	return f
}

// Strategy is the single capability every plug-in implements. The set of
// strategies is closed at startup: they are registered into a table once and
// never discovered dynamically.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, view MarketView) (domain.Signal, error)
}

// Registry is the startup-built strategy table.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy; duplicate names are a programming error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name()]; exists {
		return fmt.Errorf("strategy %q already registered", s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

// All returns the registered strategies sorted by name, so every caller walks
// them in the same order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// hold builds the neutral signal a strategy emits when it has no opinion or
// not enough history. Missing data never becomes a synthetic trade.
func hold(name, symbol, reason string, at time.Time) domain.Signal {
	return domain.Signal{
		Strategy:   name,
		Symbol:     symbol,
		Action:     domain.Hold,
		Confidence: 0,
		Reasons:    []string{reason},
		At:         at,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
