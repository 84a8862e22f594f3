package market

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
)

func quote(symbol string, last float64) domain.Quote {
	return domain.Quote{
		Symbol:    symbol,
		Last:      decimal.NewFromFloat(last),
		Timestamp: time.Now(),
	}
}

func TestCache_HitAndMiss(t *testing.T) {
	c := NewCache(time.Minute, 100, 10)
	defer c.Stop()

	c.SetQuote(quote("BTC-USD", 50000))

	got, ok := c.GetQuote("BTC-USD")
	if !ok {
		t.Fatal("expected cached quote")
	}
	if got.Stale {
		t.Error("fresh quote should not be stale")
	}

	if _, ok := c.GetQuote("DOGE-USD"); ok {
		t.Error("unseen symbol must report a miss, never fabricate data")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestCache_StaleFallback(t *testing.T) {
	c := NewCache(10*time.Millisecond, 100, 10)
	defer c.Stop()

	c.SetQuote(quote("ETH-USD", 3000))
	time.Sleep(25 * time.Millisecond)

	got, ok := c.GetQuote("ETH-USD")
	if !ok {
		t.Fatal("expired quote should still be served as a fallback")
	}
	if !got.Stale {
		t.Error("expired quote must carry the stale flag")
	}
	if !got.Last.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("stale quote changed value: %s", got.Last)
	}
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewCache(time.Minute, 3, 10)
	defer c.Stop()

	for i := 0; i < 3; i++ {
		c.SetQuote(quote(fmt.Sprintf("SYM%d-USD", i), float64(i)))
		time.Sleep(time.Millisecond)
	}
	c.SetQuote(quote("SYM3-USD", 3))

	if _, ok := c.GetQuote("SYM0-USD"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.GetQuote("SYM3-USD"); !ok {
		t.Error("newest entry missing")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCache_CandleWindowBounded(t *testing.T) {
	c := NewCache(time.Minute, 100, 5)
	defer c.Stop()

	for i := 0; i < 8; i++ {
		c.AppendCandle("BTC-USD", domain.Candle{Close: float64(i)})
	}

	bars := c.Candles("BTC-USD")
	if len(bars) != 5 {
		t.Fatalf("window = %d bars, want 5", len(bars))
	}
	if bars[0].Close != 3 || bars[4].Close != 7 {
		t.Errorf("window kept wrong bars: first=%v last=%v", bars[0].Close, bars[4].Close)
	}
}
