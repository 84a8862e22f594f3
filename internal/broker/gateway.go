// Package broker defines the gateway contract to the brokerage and the
// protective decorator that fronts every call with rate limiting and circuit
// breaking, in that fixed order.
package broker

import (
	"context"

	"github.com/stratrun/stratrun/internal/domain"
)

// Gateway is the opaque brokerage surface: quotes in, orders out. Wire-level
// details live behind implementations; the engine never sees them.
type Gateway interface {
	// GetQuote returns the current market quote for symbol.
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)

	// PlaceOrder submits an order and blocks for the synchronous fill
	// confirmation. On error no fill occurred.
	PlaceOrder(ctx context.Context, order *domain.Order) (domain.Fill, error)

	// CancelOrder cancels an open order by ID.
	CancelOrder(ctx context.Context, orderID string) error
}

// QuoteFeed supplies market prices to a simulated gateway.
type QuoteFeed interface {
	Quote(symbol string) (domain.Quote, bool)
}
