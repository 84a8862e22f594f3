package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
)

var bpsDivisor = decimal.NewFromInt(10000)

// PaperGateway simulates a brokerage for paper trading: orders fill
// immediately at the feed price adjusted by a fixed slippage, with a
// proportional fee. Fills are deterministic given the feed.
type PaperGateway struct {
	mu          sync.Mutex
	feed        QuoteFeed
	slippageBps decimal.Decimal
	feeBps      decimal.Decimal
	fills       []domain.Fill

	// failures remaining to inject before the next call succeeds
	failErr   error
	failCount int
}

// NewPaper creates a paper gateway over the given price feed.
func NewPaper(feed QuoteFeed, slippageBps, feeBps float64) *PaperGateway {
	return &PaperGateway{
		feed:        feed,
		slippageBps: decimal.NewFromFloat(slippageBps),
		feeBps:      decimal.NewFromFloat(feeBps),
	}
}

// GetQuote serves the feed's current quote.
func (g *PaperGateway) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := g.takeFailure("get_quote"); err != nil {
		return domain.Quote{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	q, ok := g.feed.Quote(symbol)
	if !ok {
		return domain.Quote{}, &domain.BrokerError{Op: "get_quote", Retryable: false, Err: domain.ErrNotFound}
	}
	return q, nil
}

// PlaceOrder fills the order at the feed price moved against the taker by the
// configured slippage. Buys pay the ask side, sells hit the bid.
func (g *PaperGateway) PlaceOrder(ctx context.Context, order *domain.Order) (domain.Fill, error) {
	if err := g.takeFailure("place_order"); err != nil {
		return domain.Fill{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Fill{}, err
	}
	if order.Qty.Sign() <= 0 {
		return domain.Fill{}, &domain.ValidationError{Field: "qty", Reason: "must be positive"}
	}

	q, ok := g.feed.Quote(order.Symbol)
	if !ok {
		return domain.Fill{}, &domain.BrokerError{Op: "place_order", Retryable: false, Err: domain.ErrNotFound}
	}

	slip := q.Last.Mul(g.slippageBps).Div(bpsDivisor)
	price := q.Last
	if order.Side == domain.Buy {
		price = price.Add(slip)
	} else {
		price = price.Sub(slip)
	}

	fill := domain.Fill{
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Side:    order.Side,
		Qty:     order.Qty,
		Price:   price,
		Fee:     price.Mul(order.Qty).Mul(g.feeBps).Div(bpsDivisor),
		At:      time.Now().UTC(),
	}
	if fill.OrderID == "" {
		fill.OrderID = uuid.NewString()
	}

	g.mu.Lock()
	g.fills = append(g.fills, fill)
	g.mu.Unlock()

	order.Status = domain.OrderFilled
	return fill, nil
}

// CancelOrder is a no-op for the paper gateway: fills are synchronous, so
// there is never an order left open to cancel.
func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := g.takeFailure("cancel_order"); err != nil {
		return err
	}
	return ctx.Err()
}

// Fills returns a copy of every fill executed, oldest first.
func (g *PaperGateway) Fills() []domain.Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Fill, len(g.fills))
	copy(out, g.fills)
	return out
}

// FailNext makes the next n calls return err. Used to exercise retry and
// breaker paths.
func (g *PaperGateway) FailNext(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCount = n
	g.failErr = err
}

func (g *PaperGateway) takeFailure(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCount > 0 {
		g.failCount--
		return &domain.BrokerError{Op: op, Retryable: true, Err: g.failErr}
	}
	return nil
}

// StaticFeed is a thread-safe in-memory quote table, the simplest QuoteFeed.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewStaticFeed creates an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]domain.Quote)}
}

// Set installs or replaces the quote for a symbol.
func (f *StaticFeed) Set(q domain.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[q.Symbol] = q
}

// SetPrice is a convenience for tests and replay feeds: it sets last/bid/ask
// to the same price.
func (f *StaticFeed) SetPrice(symbol string, price float64) {
	d := decimal.NewFromFloat(price)
	f.Set(domain.Quote{Symbol: symbol, Bid: d, Ask: d, Last: d, Timestamp: time.Now().UTC()})
}

// Quote implements QuoteFeed.
func (f *StaticFeed) Quote(symbol string) (domain.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[symbol]
	return q, ok
}
