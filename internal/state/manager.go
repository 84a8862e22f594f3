package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/portfolio"
)

// verifyTolerance bounds the drift allowed between a snapshot's recorded
// total and cash + Σ position value before it is declared corrupt.
var verifyTolerance = decimal.NewFromFloat(0.01)

// Manager owns snapshot versioning, throttled persistence across the tier
// chain, and startup recovery.
type Manager struct {
	book     *portfolio.Portfolio
	stores   []Store // recovery order: fastest first
	interval time.Duration

	mu          sync.Mutex
	version     uint64
	lastPersist time.Time
}

// NewManager wires the manager over an ordered tier chain. The order is the
// recovery order; Persist writes to every tier.
func NewManager(book *portfolio.Portfolio, interval time.Duration, stores ...Store) *Manager {
	return &Manager{book: book, stores: stores, interval: interval}
}

// Snapshot captures the book and stamps the next monotonic version.
func (m *Manager) Snapshot() domain.Snapshot {
	m.mu.Lock()
	m.version++
	version := m.version
	m.mu.Unlock()

	snap := m.book.Snapshot()
	snap.Version = version
	return snap
}

// Version returns the last stamped snapshot version.
func (m *Manager) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Persist writes a fresh snapshot to every tier, throttled to the configured
// interval unless force is set (shutdown, kill switch). Reports whether a
// write happened; a throttled skip returns (false, nil). A tier failure is
// logged and skipped; Persist errors only when every tier failed.
func (m *Manager) Persist(ctx context.Context, force bool) (bool, error) {
	m.mu.Lock()
	if !force && time.Since(m.lastPersist) < m.interval {
		m.mu.Unlock()
		return false, nil
	}
	m.lastPersist = time.Now()
	m.mu.Unlock()

	snap := m.Snapshot()

	var failures int
	for _, store := range m.stores {
		if err := store.Put(ctx, snap); err != nil {
			failures++
			log.Warn().Err(err).Str("tier", store.Name()).Uint64("version", snap.Version).Msg("Snapshot persist failed on tier")
		}
	}
	if failures == len(m.stores) {
		return false, fmt.Errorf("snapshot %d failed on all %d tiers", snap.Version, failures)
	}

	log.Debug().Uint64("version", snap.Version).Int("tiers", len(m.stores)-failures).Msg("Snapshot persisted")
	return true, nil
}

// PersistIfDirty persists (throttled) only when the book has unsaved changes.
// A change that hits the throttle window stays flagged dirty, so it is picked
// up as soon as the window reopens rather than waiting for another mutation.
func (m *Manager) PersistIfDirty(ctx context.Context) (bool, error) {
	if !m.book.ConsumeDirty() {
		return false, nil
	}
	wrote, err := m.Persist(ctx, false)
	if err != nil {
		m.book.MarkDirty() // try again next cycle
		return false, err
	}
	if !wrote {
		m.book.MarkDirty()
	}
	return wrote, nil
}

// Recover walks the tier chain for the newest verifiable snapshot and
// restores the book from it. Returns (true, nil) on restore, (false, nil)
// when every tier is empty (clean start), and a StateCorruptionError when
// snapshots exist but none verifies — the engine must refuse to run.
func (m *Manager) Recover(ctx context.Context) (bool, error) {
	sawCorrupt := false
	var lastDetail string

	for _, store := range m.stores {
		snap, err := store.Latest(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("tier", store.Name()).Msg("Recovery tier unavailable, trying next")
			continue
		}
		if err := Verify(snap); err != nil {
			sawCorrupt = true
			lastDetail = fmt.Sprintf("tier %s version %d: %v", store.Name(), snap.Version, err)
			log.Error().Err(err).Str("tier", store.Name()).Uint64("version", snap.Version).Msg("Snapshot failed verification")
			continue
		}

		m.book.Restore(snap)
		m.mu.Lock()
		m.version = snap.Version
		m.mu.Unlock()
		log.Info().Str("tier", store.Name()).Uint64("version", snap.Version).Str("cash", snap.Cash.String()).Msg("Portfolio state recovered")
		return true, nil
	}

	if sawCorrupt {
		return false, &domain.StateCorruptionError{Detail: lastDetail}
	}
	return false, nil
}

// Verify checks a snapshot's internal consistency: non-negative cash, a
// stamped version, and the recorded total matching cash plus position value
// within tolerance.
func Verify(snap domain.Snapshot) error {
	if snap.Version == 0 {
		return fmt.Errorf("missing version stamp")
	}
	if snap.Cash.Sign() < 0 {
		return fmt.Errorf("negative cash %s", snap.Cash)
	}
	total := snap.Cash
	for sym, pos := range snap.Positions {
		if pos.Symbol != sym {
			return fmt.Errorf("position key %q holds symbol %q", sym, pos.Symbol)
		}
		if pos.Qty.IsZero() {
			return fmt.Errorf("zero-quantity position %s present", sym)
		}
		total = total.Add(pos.MarketValue())
	}
	if total.Sub(snap.Total).Abs().GreaterThan(verifyTolerance) {
		return fmt.Errorf("recorded total %s != cash+positions %s", snap.Total, total)
	}
	return nil
}
