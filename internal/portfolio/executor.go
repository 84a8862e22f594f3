package portfolio

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stratrun/stratrun/internal/broker"
	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/risk"
)

// maxPlaceAttempts bounds order-placement retries on transient failures.
const maxPlaceAttempts = 3

// Calendar answers whether the instrument is tradable right now.
type Calendar interface {
	CanTrade(symbol string, at time.Time) bool
}

// AlwaysOpen is the 24/7 calendar used for crypto venues.
type AlwaysOpen struct{}

func (AlwaysOpen) CanTrade(string, time.Time) bool { return true }

// Status classifies an execution outcome.
type Status string

const (
	StatusExecuted Status = "EXECUTED"
	StatusDeclined Status = "DECLINED"
	StatusFailed   Status = "FAILED"
)

// Result is the structured outcome of one ExecuteTrade call. Declined and
// failed results always carry a reason and guarantee the book is unchanged.
type Result struct {
	Status Status
	Reason string
	Trade  *domain.Trade
	Err    error
}

// ExecRequest carries one aggregated decision plus the market context needed
// to size it.
type ExecRequest struct {
	Symbol   string
	Decision domain.Decision
	Quote    domain.Quote
	ATR      float64
}

// Executor drives trade execution against the book: risk gate, guarded broker
// call with bounded backoff, then an atomic ledger commit.
type Executor struct {
	book     *Portfolio
	gateway  broker.Gateway
	risk     *risk.Manager
	calendar Calendar
	sectors  map[string]string
	onTrade  func(domain.Trade)

	// backoffBase is doubled per retry; tests shrink it.
	backoffBase time.Duration
}

// NewExecutor wires an executor. onTrade may be nil.
func NewExecutor(book *Portfolio, gateway broker.Gateway, riskMgr *risk.Manager, calendar Calendar, sectors map[string]string, onTrade func(domain.Trade)) *Executor {
	if calendar == nil {
		calendar = AlwaysOpen{}
	}
	return &Executor{
		book:        book,
		gateway:     gateway,
		risk:        riskMgr,
		calendar:    calendar,
		sectors:     sectors,
		onTrade:     onTrade,
		backoffBase: 250 * time.Millisecond,
	}
}

// ExecuteTrade runs the full execution path for one decision. HOLD decisions
// return a decline immediately. The ledger is touched only after a confirmed
// fill; every failure path leaves cash and positions unchanged.
func (e *Executor) ExecuteTrade(ctx context.Context, req ExecRequest) Result {
	action := req.Decision.Action
	if action == domain.Hold {
		return Result{Status: StatusDeclined, Reason: "hold decision"}
	}
	if !e.calendar.CanTrade(req.Symbol, time.Now().UTC()) {
		return Result{Status: StatusDeclined, Reason: "market closed"}
	}
	if req.Quote.Last.Sign() <= 0 {
		return Result{Status: StatusDeclined, Reason: "no market data"}
	}

	held, holds := e.book.Position(req.Symbol)
	closing := false
	if holds {
		exitDir := domain.Sell
		if held.Qty.Sign() < 0 {
			exitDir = domain.Buy
		}
		closing = action == exitDir
	}

	// Stale quotes may drive exits but never open or add risk.
	if req.Quote.Stale && !closing {
		return Result{Status: StatusDeclined, Reason: "stale market data"}
	}
	if !holds && action == domain.Sell && !e.book.allowShorts {
		return Result{Status: StatusDeclined, Reason: "short selling not permitted"}
	}

	entry, _ := req.Quote.Last.Float64()
	equity, _ := e.book.Equity().Float64()
	gross, _ := e.book.GrossNotional().Float64()

	rreq := risk.Request{
		Symbol:  req.Symbol,
		Side:    action,
		Entry:   entry,
		ATR:     req.ATR,
		Closing: closing,
	}
	if closing {
		rreq.Qty = held.Qty.Abs()
	}
	approved, err := e.risk.Approve(rreq, risk.Account{
		Equity:         equity,
		OpenPositions:  e.book.OpenPositions(),
		HoldsSymbol:    holds,
		GrossNotional:  gross,
		SectorNotional: e.book.SectorNotional(e.sectors),
	})
	if err != nil {
		var rejected *domain.RiskRejected
		if errors.As(err, &rejected) {
			log.Info().Str("symbol", req.Symbol).Str("rule", rejected.Rule).Str("reason", rejected.Reason).Msg("Trade declined by risk gate")
			return Result{Status: StatusDeclined, Reason: rejected.Reason, Err: err}
		}
		return Result{Status: StatusDeclined, Reason: err.Error(), Err: err}
	}

	order := &domain.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      action,
		Qty:       approved.Qty,
		Status:    domain.OrderNew,
		CreatedAt: time.Now().UTC(),
	}

	fill, err := e.placeWithRetry(ctx, order)
	if err != nil {
		order.Status = domain.OrderFailedSt
		log.Error().Err(err).Str("symbol", req.Symbol).Str("order_id", order.ID).Msg("Order failed, ledger untouched")
		return Result{Status: StatusFailed, Reason: "broker failure after retries", Err: err}
	}

	if err := e.applyFill(fill); err != nil {
		// The broker filled but the book refused the commit. Nothing was
		// applied; surface loudly for manual reconciliation.
		log.Error().Err(err).Str("order_id", order.ID).Msg("Ledger rejected confirmed fill")
		return Result{Status: StatusFailed, Reason: "ledger rejected fill", Err: err}
	}

	if !closing {
		e.book.SetLevels(req.Symbol, approved.Stop, approved.Target)
		e.risk.RecordTrade(req.Symbol)
	}
	e.book.MarkDirty()

	trade := domain.Trade{
		ID:         order.ID,
		Symbol:     req.Symbol,
		Side:       action,
		Qty:        fill.Qty,
		Price:      fill.Price,
		Fee:        fill.Fee,
		Closing:    closing,
		Confidence: req.Decision.Confidence,
		At:         fill.At,
	}
	for _, s := range req.Decision.Signals {
		trade.Reasons = append(trade.Reasons, s.Reasons...)
	}
	if e.onTrade != nil {
		e.onTrade(trade)
	}

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(action)).
		Str("qty", fill.Qty.String()).
		Str("price", fill.Price.String()).
		Bool("closing", closing).
		Msg("Trade executed")

	return Result{Status: StatusExecuted, Trade: &trade}
}

// placeWithRetry submits the order with exponential backoff on transient
// failures: rate limits, open circuits, and retryable broker errors. Risk has
// already passed, so a terminal failure surfaces as OrderFailed.
func (e *Executor) placeWithRetry(ctx context.Context, order *domain.Order) (domain.Fill, error) {
	var lastErr error
	backoff := e.backoffBase
	for attempt := 1; attempt <= maxPlaceAttempts; attempt++ {
		fill, err := e.gateway.PlaceOrder(ctx, order)
		if err == nil {
			return fill, nil
		}
		lastErr = err
		if !domain.IsRetryable(err) {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("order_id", order.ID).Msg("Order placement failed, backing off")
		if attempt == maxPlaceAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Fill{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return domain.Fill{}, &domain.OrderFailed{OrderID: order.ID, Attempts: maxPlaceAttempts, Last: lastErr}
}

// applyFill commits the fill's cash and position deltas atomically.
func (e *Executor) applyFill(fill domain.Fill) error {
	qtyDelta := fill.Qty
	cashDelta := fill.Price.Mul(fill.Qty).Neg()
	if fill.Side == domain.Sell {
		qtyDelta = qtyDelta.Neg()
		cashDelta = cashDelta.Neg()
	}
	cashDelta = cashDelta.Sub(fill.Fee)

	tx := e.book.Begin()
	tx.StageCash(cashDelta)
	tx.StageFee(fill.Fee)
	tx.StagePosition(fill.Symbol, qtyDelta, fill.Price)
	return tx.Commit()
}

// SetBackoffBase overrides the retry backoff; tests use this to stay fast.
func (e *Executor) SetBackoffBase(d time.Duration) { e.backoffBase = d }
