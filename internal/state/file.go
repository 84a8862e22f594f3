package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stratrun/stratrun/internal/domain"
)

const snapshotPrefix = "snapshot-"

// FileStore is the durable local tier: one JSON file per version under a
// state directory, written atomically via temp-file rename.
type FileStore struct {
	dir  string
	keep int
}

// NewFileStore creates the state directory if needed.
func NewFileStore(dir string, keep int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if keep < 1 {
		keep = 1
	}
	return &FileStore{dir: dir, keep: keep}, nil
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) path(version uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%012d.json", snapshotPrefix, version))
}

func (s *FileStore) Put(_ context.Context, snap domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(snap.Version)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}

	s.prune()
	return nil
}

func (s *FileStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	versions, err := s.Versions(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	// Walk newest first: a torn or unreadable newest file falls back to the
	// previous version rather than failing recovery outright.
	for i := len(versions) - 1; i >= 0; i-- {
		snap, err := s.read(versions[i])
		if err != nil {
			log.Warn().Err(err).Uint64("version", versions[i]).Msg("Skipping unreadable snapshot file")
			continue
		}
		return snap, nil
	}
	return domain.Snapshot{}, domain.ErrNotFound
}

func (s *FileStore) Versions(_ context.Context) ([]uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var versions []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), ".json")
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

func (s *FileStore) read(version uint64) (domain.Snapshot, error) {
	data, err := os.ReadFile(s.path(version))
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %d: %w", version, err)
	}
	return snap, nil
}

func (s *FileStore) prune() {
	versions, err := s.Versions(context.Background())
	if err != nil || len(versions) <= s.keep {
		return
	}
	for _, v := range versions[:len(versions)-s.keep] {
		if err := os.Remove(s.path(v)); err != nil {
			log.Warn().Err(err).Uint64("version", v).Msg("Failed to prune old snapshot")
		}
	}
}
