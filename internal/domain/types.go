// Package domain holds the core trading types shared by every component:
// quotes, signals, positions, orders, snapshots, and the error taxonomy.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the direction of a trading signal or decision.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// Sign maps an action onto the vote axis: BUY=+1, SELL=-1, HOLD=0.
func (a Action) Sign() float64 {
	switch a {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Quote is a point-in-time market quote. Stale marks a value served past its
// TTL from the cache fallback path; stale quotes may inform exits but never
// open new risk.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"ts"`
	Stale     bool            `json:"stale,omitempty"`
}

// Candle is one OHLCV bar used for indicator math (ATR, SMA, z-score).
type Candle struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Signal is one strategy's opinion for one symbol on one evaluation cycle.
// Confidence is clamped to [0,1]. PriorityExit flags a hard stop/target breach
// that must override the aggregate vote.
type Signal struct {
	Strategy     string    `json:"strategy"`
	Symbol       string    `json:"symbol"`
	Action       Action    `json:"action"`
	Confidence   float64   `json:"confidence"`
	Reasons      []string  `json:"reasons,omitempty"`
	PriorityExit bool      `json:"priority_exit,omitempty"`
	At           time.Time `json:"at"`
}

// Decision is the aggregated outcome of one symbol's signal set. It is derived
// state and never persisted on its own.
type Decision struct {
	Symbol       string   `json:"symbol"`
	Action       Action   `json:"action"`
	Confidence   float64  `json:"confidence"`
	Signals      []Signal `json:"signals"`
	PriorityExit bool     `json:"priority_exit,omitempty"`
}

// OrderStatus tracks an order through its short synchronous lifecycle.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderFilled    OrderStatus = "FILLED"
	OrderFailedSt  OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is a request handed to the broker gateway. Qty is always positive;
// Side carries the direction.
type Order struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Action          `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Fill is the broker's confirmation of an executed order.
type Fill struct {
	OrderID string          `json:"order_id"`
	Symbol  string          `json:"symbol"`
	Side    Action          `json:"side"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	Fee     decimal.Decimal `json:"fee"`
	At      time.Time       `json:"at"`
}

// Position is the book's view of one symbol. Qty is signed: positive long,
// negative short. Exactly one Position exists per symbol; it is removed when
// Qty returns to zero.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntry      decimal.Decimal `json:"avg_entry"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Stop          decimal.Decimal `json:"stop"`
	Target        decimal.Decimal `json:"target"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// UnrealizedPnL is (current - entry) * qty; the sign convention works for
// shorts because Qty is negative.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AvgEntry).Mul(p.Qty)
}

// MarketValue is the position's current notional, signed.
func (p Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Qty)
}

// Trade is the event emitted after a successful execution, consumed by the
// journal, the websocket feed, and the logs.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Action          `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	Closing    bool            `json:"closing"`
	Confidence float64         `json:"confidence"`
	Reasons    []string        `json:"reasons,omitempty"`
	At         time.Time       `json:"at"`
}

// Snapshot is a versioned, serializable copy of portfolio state used for
// crash recovery. Versions are strictly monotonic within one engine lifetime
// and recovery rejects regressions.
type Snapshot struct {
	Version   uint64              `json:"version"`
	At        time.Time           `json:"at"`
	Cash      decimal.Decimal     `json:"cash"`
	Realized  decimal.Decimal     `json:"realized"`
	Positions map[string]Position `json:"positions"`
	Total     decimal.Decimal     `json:"total"`
	Meta      map[string]string   `json:"meta,omitempty"`
}

// VolRegime classifies rolling volatility relative to price, used to scale
// position size down in rough tape.
type VolRegime string

const (
	RegimeLow     VolRegime = "LOW"
	RegimeNormal  VolRegime = "NORMAL"
	RegimeHigh    VolRegime = "HIGH"
	RegimeExtreme VolRegime = "EXTREME"
)

// SizeFactor returns the regime's position-size multiplier.
func (r VolRegime) SizeFactor() float64 {
	switch r {
	case RegimeHigh:
		return 0.6
	case RegimeExtreme:
		return 0.4
	default:
		return 1.0
	}
}
