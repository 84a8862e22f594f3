package signals

import (
	"context"
	"fmt"

	"github.com/stratrun/stratrun/internal/domain"
)

// StopGuard watches held positions for hard stop or target breaches and flags
// them as priority exits. A priority exit overrides the aggregate vote
// regardless of what the other strategies say.
type StopGuard struct{}

func NewStopGuard() *StopGuard { return &StopGuard{} }

func (s *StopGuard) Name() string { return "stopguard" }

func (s *StopGuard) Evaluate(ctx context.Context, view MarketView) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	pos := view.Position
	if pos == nil || pos.Qty.IsZero() {
		return hold(s.Name(), view.Symbol, "no position", view.Quote.Timestamp), nil
	}
	// Stale quotes still drive exits; only new risk is blocked on staleness.
	price := view.Quote.Last

	long := pos.Qty.Sign() > 0
	exitSide := domain.Sell
	if !long {
		exitSide = domain.Buy
	}

	breach := ""
	switch {
	case !pos.Stop.IsZero() && long && price.LessThanOrEqual(pos.Stop):
		breach = fmt.Sprintf("stop %s breached at %s", pos.Stop, price)
	case !pos.Stop.IsZero() && !long && price.GreaterThanOrEqual(pos.Stop):
		breach = fmt.Sprintf("stop %s breached at %s", pos.Stop, price)
	case !pos.Target.IsZero() && long && price.GreaterThanOrEqual(pos.Target):
		breach = fmt.Sprintf("target %s reached at %s", pos.Target, price)
	case !pos.Target.IsZero() && !long && price.LessThanOrEqual(pos.Target):
		breach = fmt.Sprintf("target %s reached at %s", pos.Target, price)
	}
	if breach == "" {
		return hold(s.Name(), view.Symbol, "inside stop/target band", view.Quote.Timestamp), nil
	}

	return domain.Signal{
		Strategy:     s.Name(),
		Symbol:       view.Symbol,
		Action:       exitSide,
		Confidence:   1,
		Reasons:      []string{breach},
		PriorityExit: true,
		At:           view.Quote.Timestamp,
	}, nil
}
