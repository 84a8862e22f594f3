package signals

import (
	"sort"

	"github.com/stratrun/stratrun/internal/domain"
)

// Aggregator folds one cycle's signals for one symbol into a single decision
// by weighted vote:
//
//	weighted = Σ(weight_i · confidence_i · sign_i) / Σ weight_i
//
// HOLD signals contribute zero to the numerator but keep their weight in the
// denominator, so an abstaining strategy dampens the vote instead of vanishing
// from it. Entry uses the entry threshold; closing an existing position uses
// the lower exit threshold. The result depends only on the signal list and
// weights, never on wall-clock or map iteration order.
type Aggregator struct {
	weights        map[string]float64
	entryThreshold float64
	exitThreshold  float64
}

// NewAggregator builds an aggregator with per-strategy weights. Strategies
// without an entry weigh 1.0.
func NewAggregator(weights map[string]float64, entryThreshold, exitThreshold float64) *Aggregator {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Aggregator{weights: w, entryThreshold: entryThreshold, exitThreshold: exitThreshold}
}

func (a *Aggregator) weight(strategy string) float64 {
	if w, ok := a.weights[strategy]; ok {
		return w
	}
	return 1.0
}

// Decide combines the signals. held reports whether a position is open in the
// symbol, which selects the exit threshold and orients exit decisions.
func (a *Aggregator) Decide(symbol string, sigs []domain.Signal, held *domain.Position) domain.Decision {
	ordered := make([]domain.Signal, len(sigs))
	copy(ordered, sigs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Strategy < ordered[j].Strategy })

	decision := domain.Decision{Symbol: symbol, Action: domain.Hold, Signals: ordered}

	// A hard stop/target breach from any single strategy preempts the vote.
	for _, s := range ordered {
		if s.PriorityExit && held != nil && !held.Qty.IsZero() {
			decision.Action = s.Action
			decision.Confidence = s.Confidence
			decision.PriorityExit = true
			return decision
		}
	}

	var sum, totalWeight float64
	for _, s := range ordered {
		w := a.weight(s.Strategy)
		sum += w * s.Confidence * s.Action.Sign()
		totalWeight += w
	}
	if totalWeight == 0 {
		return decision
	}
	weighted := sum / totalWeight

	// An exact tie of buy and sell pull resolves to HOLD.
	if weighted == 0 {
		return decision
	}

	threshold := a.entryThreshold
	if held != nil && !held.Qty.IsZero() {
		threshold = a.exitThreshold
	}
	if abs(weighted) < threshold {
		return decision
	}

	if weighted > 0 {
		decision.Action = domain.Buy
	} else {
		decision.Action = domain.Sell
	}
	decision.Confidence = abs(weighted)

	// Holding long, the vote only matters as an exit when it points the other
	// way; same-direction votes are adds and use entry rules.
	if held != nil && !held.Qty.IsZero() {
		exitDir := domain.Sell
		if held.Qty.Sign() < 0 {
			exitDir = domain.Buy
		}
		if decision.Action != exitDir && abs(weighted) < a.entryThreshold {
			decision.Action = domain.Hold
			decision.Confidence = 0
		}
	}
	return decision
}
