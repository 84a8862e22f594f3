// Package market provides a bounded TTL cache for quotes and candle history.
// It insulates the engine loop from upstream latency: expired entries are
// served with a staleness flag instead of failing the cycle, and a symbol the
// cache has never seen is reported as missing so the engine trades nothing on
// it. Missing data is never substituted with synthetic values.
package market

import (
	"sync"
	"time"

	"github.com/stratrun/stratrun/internal/domain"
)

// Cache holds the latest quote and a rolling candle window per symbol.
type Cache struct {
	mu         sync.RWMutex
	quotes     map[string]*quoteEntry
	candles    map[string][]domain.Candle
	ttl        time.Duration
	maxEntries int64
	history    int
	stats      Stats

	stopCh   chan struct{}
	stopOnce sync.Once
}

type quoteEntry struct {
	quote   domain.Quote
	expires time.Time
}

// Stats counts cache effectiveness for telemetry.
type Stats struct {
	Hits      int64
	Misses    int64
	StaleHits int64
	Evictions int64
}

// NewCache creates a cache with the given TTL, entry bound, and candle window,
// and starts the background janitor.
func NewCache(ttl time.Duration, maxEntries int64, history int) *Cache {
	c := &Cache{
		quotes:     make(map[string]*quoteEntry),
		candles:    make(map[string][]domain.Candle),
		ttl:        ttl,
		maxEntries: maxEntries,
		history:    history,
		stopCh:     make(chan struct{}),
	}
	go c.janitor()
	return c
}

// SetQuote stores a fresh quote, evicting the oldest entry when full.
func (c *Cache) SetQuote(q domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.quotes[q.Symbol]; !exists && int64(len(c.quotes)) >= c.maxEntries {
		c.evictOldestLocked()
	}
	q.Stale = false
	c.quotes[q.Symbol] = &quoteEntry{quote: q, expires: time.Now().Add(c.ttl)}
}

// GetQuote returns the cached quote for symbol. Past the TTL the last value is
// still returned with Stale set; a symbol never cached returns ok=false.
func (c *Cache) GetQuote(symbol string) (domain.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.quotes[symbol]
	if !exists {
		c.stats.Misses++
		return domain.Quote{}, false
	}
	q := entry.quote
	if time.Now().After(entry.expires) {
		q.Stale = true
		c.stats.StaleHits++
		return q, true
	}
	c.stats.Hits++
	return q, true
}

// AppendCandle pushes a bar onto the symbol's rolling window.
func (c *Cache) AppendCandle(symbol string, candle domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bars := append(c.candles[symbol], candle)
	if len(bars) > c.history {
		bars = bars[len(bars)-c.history:]
	}
	c.candles[symbol] = bars
}

// Candles returns a copy of the symbol's candle window, oldest first.
func (c *Cache) Candles(symbol string) []domain.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bars := c.candles[symbol]
	out := make([]domain.Candle, len(bars))
	copy(out, bars)
	return out
}

// Stats returns a copy of the current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Stop terminates the janitor goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictOldestLocked removes the entry with the earliest expiry. Caller holds
// the write lock.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.quotes {
		if oldestKey == "" || entry.expires.Before(oldest) {
			oldestKey = key
			oldest = entry.expires
		}
	}
	if oldestKey != "" {
		delete(c.quotes, oldestKey)
		c.stats.Evictions++
	}
}

// janitor drops quotes that have been stale for several TTLs. Recently expired
// entries are kept so GetQuote can serve them as stale fallbacks.
func (c *Cache) janitor() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * c.ttl)
			c.mu.Lock()
			for key, entry := range c.quotes {
				if entry.expires.Before(cutoff) {
					delete(c.quotes, key)
					c.stats.Evictions++
				}
			}
			c.mu.Unlock()
		}
	}
}
