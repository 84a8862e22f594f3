package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/stratrun/stratrun/internal/domain"
)

const (
	redisKeyPrefix   = "stratrun:snapshot:"
	redisLatestKey   = redisKeyPrefix + "latest"
	redisVersionsKey = redisKeyPrefix + "versions"
)

// RedisStore is the fast external tier: snapshots survive engine restarts but
// not cache eviction, so it sits in front of the file tier, never instead of
// it.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client; the caller owns its lifecycle.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Name() string { return "redis" }

func versionKey(version uint64) string {
	return fmt.Sprintf("%sv%d", redisKeyPrefix, version)
}

func (s *RedisStore) Put(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, versionKey(snap.Version), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	if err := s.client.Set(ctx, redisLatestKey, snap.Version, 0).Err(); err != nil {
		return fmt.Errorf("redis set latest pointer: %w", err)
	}
	if err := s.client.ZAdd(ctx, redisVersionsKey, &redis.Z{
		Score:  float64(snap.Version),
		Member: strconv.FormatUint(snap.Version, 10),
	}).Err(); err != nil {
		return fmt.Errorf("redis index version: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	raw, err := s.client.Get(ctx, redisLatestKey).Result()
	if err == redis.Nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis get latest pointer: %w", err)
	}
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("corrupt latest pointer %q: %w", raw, err)
	}

	data, err := s.client.Get(ctx, versionKey(version)).Bytes()
	if err == redis.Nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("redis get snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %d: %w", version, err)
	}
	return snap, nil
}

func (s *RedisStore) Versions(ctx context.Context) ([]uint64, error) {
	members, err := s.client.ZRange(ctx, redisVersionsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list versions: %w", err)
	}
	out := make([]uint64, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
