// Package journal keeps an append-only record of executed trades in Postgres
// for the dashboard's history feed. It is optional: a nil *Journal is a no-op
// so the engine runs unchanged without a database.
package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/domain"
)

// Row is the persisted shape of one executed trade.
type Row struct {
	ID         string          `db:"id" json:"id"`
	Symbol     string          `db:"symbol" json:"symbol"`
	Side       string          `db:"side" json:"side"`
	Qty        decimal.Decimal `db:"qty" json:"qty"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Fee        decimal.Decimal `db:"fee" json:"fee"`
	Closing    bool            `db:"closing" json:"closing"`
	Confidence float64         `db:"confidence" json:"confidence"`
	Reasons    string          `db:"reasons" json:"reasons"`
	ExecutedAt time.Time       `db:"executed_at" json:"executed_at"`
}

// Journal is the Postgres-backed trade log.
type Journal struct {
	db *sqlx.DB
}

// New ensures the schema and returns the journal.
func New(db *sqlx.DB) (*Journal, error) {
	schema := `CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty NUMERIC NOT NULL,
		price NUMERIC NOT NULL,
		fee NUMERIC NOT NULL,
		closing BOOLEAN NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		reasons TEXT NOT NULL DEFAULT '',
		executed_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure trades schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Insert appends one trade. Nil-safe.
func (j *Journal) Insert(ctx context.Context, trade domain.Trade) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (id, symbol, side, qty, price, fee, closing, confidence, reasons, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trade.ID, trade.Symbol, string(trade.Side), trade.Qty, trade.Price, trade.Fee,
		trade.Closing, trade.Confidence, strings.Join(trade.Reasons, "; "), trade.At)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// Recent returns the latest n trades, newest first. Nil-safe.
func (j *Journal) Recent(ctx context.Context, n int) ([]Row, error) {
	if j == nil {
		return nil, nil
	}
	var rows []Row
	err := j.db.SelectContext(ctx, &rows,
		`SELECT id, symbol, side, qty, price, fee, closing, confidence, reasons, executed_at
		 FROM trades ORDER BY executed_at DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("select recent trades: %w", err)
	}
	return rows, nil
}
