// Package state persists and recovers portfolio snapshots across a chain of
// storage tiers sharing one contract: a fast in-process tier, Redis, the local
// file system, and optionally Postgres as a remote backup. Recovery walks the
// chain in order and verifies internal consistency before accepting anything.
package state

import (
	"context"
	"sort"
	"sync"

	"github.com/stratrun/stratrun/internal/domain"
)

// Store is the uniform get/put/list-versions contract every tier implements.
// Latest returns domain.ErrNotFound when the tier holds nothing.
type Store interface {
	Name() string
	Put(ctx context.Context, snap domain.Snapshot) error
	Latest(ctx context.Context) (domain.Snapshot, error)
	Versions(ctx context.Context) ([]uint64, error)
}

// MemoryStore is the fast in-process tier. It survives pauses, not restarts;
// its job is serving the read feed and absorbing persist throttling.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[uint64]domain.Snapshot
	keep  int
}

// NewMemoryStore keeps the most recent keep versions.
func NewMemoryStore(keep int) *MemoryStore {
	if keep < 1 {
		keep = 1
	}
	return &MemoryStore{snaps: make(map[uint64]domain.Snapshot), keep: keep}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Put(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Version] = snap
	if len(s.snaps) > s.keep {
		versions := s.versionsLocked()
		for _, v := range versions[:len(versions)-s.keep] {
			delete(s.snaps, v)
		}
	}
	return nil
}

func (s *MemoryStore) Latest(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versionsLocked()
	if len(versions) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return s.snaps[versions[len(versions)-1]], nil
}

func (s *MemoryStore) Versions(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionsLocked(), nil
}

func (s *MemoryStore) versionsLocked() []uint64 {
	out := make([]uint64, 0, len(s.snaps))
	for v := range s.snaps {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
