package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratrun/stratrun/internal/domain"
)

func testSnapshot(version uint64, cash float64) domain.Snapshot {
	c := decimal.NewFromFloat(cash)
	pos := domain.Position{
		Symbol:       "BTC-USD",
		Qty:          decimal.NewFromInt(10),
		AvgEntry:     decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(110),
		OpenedAt:     time.Unix(1700000000, 0).UTC(),
	}
	return domain.Snapshot{
		Version:   version,
		At:        time.Unix(1700000100, 0).UTC(),
		Cash:      c,
		Positions: map[string]domain.Position{"BTC-USD": pos},
		Total:     c.Add(pos.MarketValue()),
	}
}

func TestMemoryStore_RoundTripAndPrune(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for v := uint64(1); v <= 4; v++ {
		require.NoError(t, s.Put(ctx, testSnapshot(v, float64(v)*1000)))
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), latest.Version)

	versions, err := s.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, versions)
}

func TestFileStore_RoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 10)
	require.NoError(t, err)
	ctx := context.Background()

	want := testSnapshot(7, 12345.67)
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, got.Cash.Equal(want.Cash))
	assert.True(t, got.Total.Equal(want.Total))
	require.Contains(t, got.Positions, "BTC-USD")
	assert.True(t, got.Positions["BTC-USD"].Qty.Equal(decimal.NewFromInt(10)))
}

func TestFileStore_PrunesOldVersions(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()

	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, s.Put(ctx, testSnapshot(v, 1000)))
	}

	versions, err := s.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, versions)
}

func TestFileStore_TornNewestFallsBack(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testSnapshot(1, 1000)))
	require.NoError(t, s.Put(ctx, testSnapshot(2, 2000)))

	// Corrupt the newest file as a crash mid-write would.
	require.NoError(t, os.WriteFile(s.path(2), []byte("{\"version\": 2, \"cash"), 0o644))

	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
}

func TestFileStore_EmptyDirNotFound(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 10)
	require.NoError(t, err)

	_, err = s.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
