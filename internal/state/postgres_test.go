package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratrun/stratrun/internal/domain"
)

func newPostgresFixture(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS portfolio_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(sqlx.NewDb(db, "postgres"))
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStore_Put(t *testing.T) {
	store, mock := newPostgresFixture(t)

	snap := testSnapshot(4, 2500)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO portfolio_snapshots").
		WithArgs(int64(4), snap.At, data).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Put(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Latest(t *testing.T) {
	store, mock := newPostgresFixture(t)

	snap := testSnapshot(11, 9000)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT state FROM portfolio_snapshots ORDER BY version DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(data))

	got, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(11), got.Version)
	assert.True(t, got.Cash.Equal(snap.Cash))
}

func TestPostgresStore_LatestEmpty(t *testing.T) {
	store, mock := newPostgresFixture(t)

	mock.ExpectQuery("SELECT state FROM portfolio_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	_, err := store.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresStore_Versions(t *testing.T) {
	store, mock := newPostgresFixture(t)

	mock.ExpectQuery("SELECT version FROM portfolio_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(3).AddRow(8))

	got, err := store.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3, 8}, got)
}
