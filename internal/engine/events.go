// Package engine orchestrates the trading loop: market data in, strategy
// evaluation, aggregation, risk gating, execution, persistence.
package engine

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stratrun/stratrun/internal/domain"
)

const subscriberBuffer = 64

// Bus fans executed-trade events out to subscribers (websocket clients, the
// journal writer). Publishing never blocks: a slow subscriber drops events
// rather than stalling the execution path.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan domain.Trade
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan domain.Trade)}
}

// Subscribe returns a receive channel and its cancel function. Cancel closes
// the channel.
func (b *Bus) Subscribe() (<-chan domain.Trade, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan domain.Trade, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the trade to every subscriber, dropping on full buffers.
func (b *Bus) Publish(trade domain.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- trade:
		default:
			log.Warn().Int("subscriber", id).Str("trade", trade.ID).Msg("Dropping trade event for slow subscriber")
		}
	}
}

// SubscriberCount reports active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
