// Package portfolio owns the authoritative cash and position book. All
// mutation flows through ledger transactions: deltas are staged, validated
// against a scratch copy, and applied atomically under the portfolio's single
// writer lock. Lock acquisition order across the system is fixed: rate
// limiter, then circuit breaker, then this ledger — never reversed.
package portfolio

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
)

type positionDelta struct {
	symbol   string
	qtyDelta decimal.Decimal
	price    decimal.Decimal
}

// Tx is one atomic begin/commit cycle. It holds the portfolio's writer lock
// from Begin until Commit or Rollback, so concurrent fills never interleave.
// A Tx is never left pending: every code path resolves it synchronously.
type Tx struct {
	p         *Portfolio
	cashDelta decimal.Decimal
	feeDelta  decimal.Decimal
	posDeltas []positionDelta
	done      bool
}

// Begin opens a transaction and takes the writer lock.
func (p *Portfolio) Begin() *Tx {
	p.mu.Lock()
	return &Tx{p: p}
}

// StageCash adds a cash delta (negative for outflows) to the staged set.
func (t *Tx) StageCash(delta decimal.Decimal) *Tx {
	t.cashDelta = t.cashDelta.Add(delta)
	return t
}

// StageFee records the fee portion of a staged cash outflow so conservation
// accounting can separate fees from P&L.
func (t *Tx) StageFee(fee decimal.Decimal) *Tx {
	t.feeDelta = t.feeDelta.Add(fee)
	return t
}

// StagePosition adds a signed quantity delta at the given fill price.
func (t *Tx) StagePosition(symbol string, qtyDelta, price decimal.Decimal) *Tx {
	t.posDeltas = append(t.posDeltas, positionDelta{symbol: symbol, qtyDelta: qtyDelta, price: price})
	return t
}

// Commit validates the entire staged set and applies it atomically. On any
// validation failure nothing is applied and the book is byte-for-byte
// unchanged. The writer lock is released either way.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already resolved")
	}
	defer t.finish()

	newCash := t.p.cash.Add(t.cashDelta)
	if newCash.Sign() < 0 {
		return fmt.Errorf("%w: cash %s after delta %s", domain.ErrInsufficientFunds, t.p.cash, t.cashDelta)
	}

	// Validate every position delta against a scratch view before touching
	// the book. Deltas within one tx may stack on the same symbol.
	scratch := make(map[string]decimal.Decimal, len(t.posDeltas))
	for _, d := range t.posDeltas {
		qty, ok := scratch[d.symbol]
		if !ok {
			if pos, held := t.p.positions[d.symbol]; held {
				qty = pos.Qty
			}
		}
		next := qty.Add(d.qtyDelta)
		if err := t.p.validateQty(d.symbol, qty, next); err != nil {
			return err
		}
		scratch[d.symbol] = next
	}

	t.p.cash = newCash
	t.p.fees = t.p.fees.Add(t.feeDelta)
	for _, d := range t.posDeltas {
		t.p.applyDelta(d)
	}
	return nil
}

// Rollback discards the staged deltas and releases the lock.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.finish()
}

func (t *Tx) finish() {
	t.done = true
	t.p.mu.Unlock()
}

// validateQty rejects transitions the book cannot represent: closing more
// than held, or opening short without permission. Crossing through zero in a
// single delta is always invalid; callers close first, then open.
func (p *Portfolio) validateQty(symbol string, from, to decimal.Decimal) error {
	if !p.allowShorts && to.Sign() < 0 {
		return fmt.Errorf("%w: %s would go to %s without short permission", domain.ErrInvalidPosition, symbol, to)
	}
	if from.Sign() > 0 && to.Sign() < 0 || from.Sign() < 0 && to.Sign() > 0 {
		return fmt.Errorf("%w: %s cannot cross zero in one transaction (%s -> %s)", domain.ErrInvalidPosition, symbol, from, to)
	}
	return nil
}

// applyDelta mutates one position under the writer lock. Validation already
// passed, so every branch here succeeds.
func (p *Portfolio) applyDelta(d positionDelta) {
	pos, held := p.positions[d.symbol]
	if !held {
		if d.qtyDelta.IsZero() {
			return
		}
		p.positions[d.symbol] = &domain.Position{
			Symbol:       d.symbol,
			Qty:          d.qtyDelta,
			AvgEntry:     d.price,
			CurrentPrice: d.price,
			OpenedAt:     p.now(),
		}
		return
	}

	sameDirection := pos.Qty.Sign() == d.qtyDelta.Sign()
	if sameDirection {
		// Weighted-average entry on adds.
		oldAbs := pos.Qty.Abs()
		addAbs := d.qtyDelta.Abs()
		totalAbs := oldAbs.Add(addAbs)
		pos.AvgEntry = pos.AvgEntry.Mul(oldAbs).Add(d.price.Mul(addAbs)).Div(totalAbs)
	} else {
		// Partial or full close realizes P&L on the closed quantity.
		realized := d.price.Sub(pos.AvgEntry).Mul(d.qtyDelta.Neg())
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		p.realized = p.realized.Add(realized)
	}

	pos.Qty = pos.Qty.Add(d.qtyDelta)
	pos.CurrentPrice = d.price
	if pos.Qty.IsZero() {
		delete(p.positions, d.symbol)
	}
}

func (p *Portfolio) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now().UTC()
}
