package portfolio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
)

// Portfolio is the single-writer book of cash and open positions. Writes go
// through ledger transactions (see ledger.go); reads take the shared lock and
// return copies, so callers never alias live book state.
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	realized    decimal.Decimal
	fees        decimal.Decimal
	positions   map[string]*domain.Position
	allowShorts bool
	dirty       atomic.Bool

	clock func() time.Time // test seam
}

// New creates a portfolio holding only cash.
func New(initialCash decimal.Decimal, allowShorts bool) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		positions:   make(map[string]*domain.Position),
		allowShorts: allowShorts,
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Realized returns cumulative realized P&L, gross of fees.
func (p *Portfolio) Realized() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Fees returns cumulative fees paid.
func (p *Portfolio) Fees() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fees
}

// Equity is cash plus the marked-to-market value of every position.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	eq := p.cash
	for _, pos := range p.positions {
		eq = eq.Add(pos.MarketValue())
	}
	return eq
}

// Position returns a copy of the symbol's position.
func (p *Portfolio) Position(symbol string) (domain.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns a copy of every open position keyed by symbol.
func (p *Portfolio) Positions() map[string]domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = *pos
	}
	return out
}

// OpenPositions returns the count of open positions.
func (p *Portfolio) OpenPositions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

// GrossNotional sums |qty|·price across positions.
func (p *Portfolio) GrossNotional() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.MarketValue().Abs())
	}
	return total
}

// SectorNotional buckets position notional by the given symbol→sector map.
func (p *Portfolio) SectorNotional(sectors map[string]string) map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64)
	for sym, pos := range p.positions {
		sector, ok := sectors[sym]
		if !ok {
			continue
		}
		mv, _ := pos.MarketValue().Abs().Float64()
		out[sector] += mv
	}
	return out
}

// MarkPrice updates a position's mark-to-market price. No-op for symbols not
// held.
func (p *Portfolio) MarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
}

// SetLevels installs stop and target prices on a held position.
func (p *Portfolio) SetLevels(symbol string, stop, target decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.Stop = stop
		pos.Target = target
	}
}

// SetStop moves only the stop, used by the trailing rule.
func (p *Portfolio) SetStop(symbol string, stop decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.Stop = stop
	}
}

// MarkDirty flags unsaved state for the state manager.
func (p *Portfolio) MarkDirty() { p.dirty.Store(true) }

// ConsumeDirty reports and clears the dirty flag.
func (p *Portfolio) ConsumeDirty() bool { return p.dirty.Swap(false) }

// Dirty reports unsaved state without clearing it.
func (p *Portfolio) Dirty() bool { return p.dirty.Load() }

// Snapshot captures a consistent serializable copy of the book under the
// shared lock. Version stamping belongs to the state manager.
func (p *Portfolio) Snapshot() domain.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make(map[string]domain.Position, len(p.positions))
	total := p.cash
	for sym, pos := range p.positions {
		positions[sym] = *pos
		total = total.Add(pos.MarketValue())
	}
	return domain.Snapshot{
		At:        time.Now().UTC(),
		Cash:      p.cash,
		Realized:  p.realized,
		Positions: positions,
		Total:     total,
		Meta:      map[string]string{"fees": p.fees.String()},
	}
}

// Restore replaces the book with the snapshot's contents. Used once at
// startup after the snapshot has passed consistency verification.
func (p *Portfolio) Restore(snap domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cash = snap.Cash
	p.realized = snap.Realized
	p.positions = make(map[string]*domain.Position, len(snap.Positions))
	for sym, pos := range snap.Positions {
		cp := pos
		p.positions[sym] = &cp
	}
	if fees, ok := snap.Meta["fees"]; ok {
		if d, err := decimal.NewFromString(fees); err == nil {
			p.fees = d
		}
	}
}
