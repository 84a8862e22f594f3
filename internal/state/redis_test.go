package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratrun/stratrun/internal/domain"
)

func TestRedisStore_Put(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	snap := testSnapshot(3, 5000)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet(versionKey(3), data, 0).SetVal("OK")
	mock.ExpectSet(redisLatestKey, uint64(3), 0).SetVal("OK")
	mock.ExpectZAdd(redisVersionsKey, &redis.Z{Score: 3, Member: "3"}).SetVal(1)

	require.NoError(t, s.Put(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Latest(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	snap := testSnapshot(9, 7500)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectGet(redisLatestKey).SetVal("9")
	mock.ExpectGet(versionKey(9)).SetVal(string(data))

	got, err := s.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Version)
	assert.True(t, got.Cash.Equal(snap.Cash))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_LatestEmpty(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	mock.ExpectGet(redisLatestKey).RedisNil()

	_, err := s.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisStore_Versions(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client)

	mock.ExpectZRange(redisVersionsKey, 0, -1).SetVal([]string{"1", "2", "5"})

	got, err := s.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 5}, got)
}
