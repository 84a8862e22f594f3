package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/stratrun/stratrun/internal/domain"
)

// PostgresStore is the optional remote backup tier: one row per snapshot
// version. Last in the recovery chain.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection and ensures the schema exists.
func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	schema := `CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		version BIGINT PRIMARY KEY,
		taken_at TIMESTAMPTZ NOT NULL,
		state JSONB NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Put(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (version, taken_at, state) VALUES ($1, $2, $3)
		 ON CONFLICT (version) DO UPDATE SET taken_at = EXCLUDED.taken_at, state = EXCLUDED.state`,
		int64(snap.Version), snap.At, data)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowxContext(ctx,
		`SELECT state FROM portfolio_snapshots ORDER BY version DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("select latest snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Versions(ctx context.Context) ([]uint64, error) {
	var raw []int64
	if err := s.db.SelectContext(ctx, &raw,
		`SELECT version FROM portfolio_snapshots ORDER BY version ASC`); err != nil {
		return nil, fmt.Errorf("list snapshot versions: %w", err)
	}
	out := make([]uint64, len(raw))
	for i, v := range raw {
		out[i] = uint64(v)
	}
	return out, nil
}
