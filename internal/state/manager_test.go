package state

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/portfolio"
)

func seededBook(t *testing.T) *portfolio.Portfolio {
	t.Helper()
	book := portfolio.New(decimal.NewFromInt(100_000), false)
	tx := book.Begin()
	tx.StageCash(decimal.NewFromInt(10_000).Neg())
	tx.StagePosition("BTC-USD", decimal.NewFromInt(100), decimal.NewFromInt(100))
	require.NoError(t, tx.Commit())
	return book
}

func TestManager_PersistRecoverRoundTrip(t *testing.T) {
	book := seededBook(t)
	fileStore, err := NewFileStore(t.TempDir(), 5)
	require.NoError(t, err)
	m := NewManager(book, time.Second, NewMemoryStore(5), fileStore)

	book.MarkDirty()
	wrote, err := m.Persist(context.Background(), true)
	require.NoError(t, err)
	require.True(t, wrote)

	// Recover into a fresh book through a fresh manager over the same tiers.
	restored := portfolio.New(decimal.Zero, false)
	m2 := NewManager(restored, time.Second, NewMemoryStore(5), fileStore)
	recovered, err := m2.Recover(context.Background())
	require.NoError(t, err)
	require.True(t, recovered)

	assert.True(t, restored.Cash().Equal(book.Cash()))
	assert.Equal(t, book.Positions(), restored.Positions())
	assert.Equal(t, m.Version(), m2.Version(), "recovered version must continue the sequence")
}

func TestManager_PersistThrottled(t *testing.T) {
	book := seededBook(t)
	mem := NewMemoryStore(10)
	m := NewManager(book, time.Hour, mem)

	wrote, err := m.Persist(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = m.Persist(context.Background(), false) // inside throttle window
	require.NoError(t, err)
	assert.False(t, wrote, "second persist inside the interval must be skipped")
	versions, _ := mem.Versions(context.Background())
	assert.Len(t, versions, 1)

	wrote, err = m.Persist(context.Background(), true) // forced flush bypasses
	require.NoError(t, err)
	assert.True(t, wrote)
	versions, _ = mem.Versions(context.Background())
	assert.Len(t, versions, 2)
}

func TestManager_PersistIfDirtyConsumesFlag(t *testing.T) {
	book := seededBook(t)
	mem := NewMemoryStore(10)
	m := NewManager(book, time.Nanosecond, mem)

	wrote, err := m.PersistIfDirty(context.Background()) // not dirty: no-op
	require.NoError(t, err)
	assert.False(t, wrote)
	versions, _ := mem.Versions(context.Background())
	assert.Empty(t, versions)

	book.MarkDirty()
	wrote, err = m.PersistIfDirty(context.Background())
	require.NoError(t, err)
	assert.True(t, wrote)
	versions, _ = mem.Versions(context.Background())
	assert.Len(t, versions, 1)
	assert.False(t, book.Dirty())
}

func TestManager_ThrottledDirtyChangeSurvivesToNextWindow(t *testing.T) {
	book := seededBook(t)
	mem := NewMemoryStore(10)
	m := NewManager(book, 50*time.Millisecond, mem)

	wrote, err := m.Persist(context.Background(), true)
	require.NoError(t, err)
	require.True(t, wrote)

	// A mutation lands right after the snapshot, inside the throttle window.
	tx := book.Begin()
	tx.StageCash(decimal.NewFromInt(5_000).Neg())
	tx.StagePosition("ETH-USD", decimal.NewFromInt(2), decimal.NewFromInt(2500))
	require.NoError(t, tx.Commit())
	book.MarkDirty()

	wrote, err = m.PersistIfDirty(context.Background())
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.True(t, book.Dirty(), "a throttled change must stay flagged for the next window")

	time.Sleep(60 * time.Millisecond)

	wrote, err = m.PersistIfDirty(context.Background())
	require.NoError(t, err)
	require.True(t, wrote)

	snap, err := mem.Latest(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Positions, 2)
	assert.Contains(t, snap.Positions, "ETH-USD")
}

func TestManager_RecoveryPrefersEarlierTier(t *testing.T) {
	fast := NewMemoryStore(5)
	slow := NewMemoryStore(5)
	ctx := context.Background()
	require.NoError(t, fast.Put(ctx, testSnapshot(5, 5000)))
	require.NoError(t, slow.Put(ctx, testSnapshot(3, 3000)))

	book := portfolio.New(decimal.Zero, false)
	m := NewManager(book, time.Second, fast, slow)

	recovered, err := m.Recover(ctx)
	require.NoError(t, err)
	require.True(t, recovered)
	assert.True(t, book.Cash().Equal(decimal.NewFromInt(5000)), "cash %s", book.Cash())
}

func TestManager_RecoverySkipsCorruptTier(t *testing.T) {
	corrupt := testSnapshot(9, 9000)
	corrupt.Total = corrupt.Total.Add(decimal.NewFromInt(12345)) // breaks the consistency check

	fast := NewMemoryStore(5)
	slow := NewMemoryStore(5)
	ctx := context.Background()
	require.NoError(t, fast.Put(ctx, corrupt))
	require.NoError(t, slow.Put(ctx, testSnapshot(8, 8000)))

	book := portfolio.New(decimal.Zero, false)
	m := NewManager(book, time.Second, fast, slow)

	recovered, err := m.Recover(ctx)
	require.NoError(t, err)
	require.True(t, recovered)
	assert.Equal(t, uint64(8), m.Version())
}

func TestManager_AllTiersCorruptIsFatal(t *testing.T) {
	corrupt := testSnapshot(9, 9000)
	corrupt.Total = corrupt.Total.Add(decimal.NewFromInt(1))

	tier := NewMemoryStore(5)
	require.NoError(t, tier.Put(context.Background(), corrupt))

	book := portfolio.New(decimal.Zero, false)
	m := NewManager(book, time.Second, tier)

	_, err := m.Recover(context.Background())
	var stateErr *domain.StateCorruptionError
	require.ErrorAs(t, err, &stateErr)
}

func TestManager_EmptyTiersCleanStart(t *testing.T) {
	book := portfolio.New(decimal.Zero, false)
	m := NewManager(book, time.Second, NewMemoryStore(5))

	recovered, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, recovered, "empty tiers mean a clean start, not an error")
}

func TestVerify_Checks(t *testing.T) {
	good := testSnapshot(1, 1000)
	assert.NoError(t, Verify(good))

	unversioned := good
	unversioned.Version = 0
	assert.Error(t, Verify(unversioned))

	negative := good
	negative.Cash = decimal.NewFromInt(-5)
	assert.Error(t, Verify(negative))

	zeroQty := testSnapshot(2, 1000)
	pos := zeroQty.Positions["BTC-USD"]
	pos.Qty = decimal.Zero
	zeroQty.Positions["BTC-USD"] = pos
	assert.Error(t, Verify(zeroQty))
}
