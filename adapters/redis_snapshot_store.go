package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const RedisSnapshotKeyPrefix = "snapshot:"

// RedisHashClient is the part of *redis.Client the store needs.
type RedisHashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type RedisSnapshotStoreParams struct {
	Client RedisHashClient

	// TTL expires a device's snapshot when it stops reporting. Zero keeps it.
	TTL time.Duration

	Log zerolog.Logger
}

// RedisSnapshotStore writes the latest state of each device into a hash,
// one JSON encoded field per reported property.
type RedisSnapshotStore struct {
	params RedisSnapshotStoreParams

	log zerolog.Logger
}

func NewRedisSnapshotStore(params RedisSnapshotStoreParams) (*RedisSnapshotStore, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisSnapshotStore{params: params, log: params.Log}, nil
}

func RedisSnapshotKey(deviceID string) string {
	return RedisSnapshotKeyPrefix + deviceID
}

func (r *RedisSnapshotStore) Save(ctx context.Context, deviceID string, state map[string]any) error {
	if len(state) == 0 {
		return nil
	}

	fields := make([]string, 0, len(state))
	for k := range state {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	values := make([]interface{}, 0, 2*len(fields))
	for _, field := range fields {
		data, err := json.Marshal(state[field])
		if err != nil {
			return fmt.Errorf("failed to encode field %s: %w", field, err)
		}
		values = append(values, field, string(data))
	}

	key := RedisSnapshotKey(deviceID)
	if err := r.params.Client.HSet(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("failed to set hash %s: %w", key, err)
	}

	if r.params.TTL > 0 {
		if err := r.params.Client.Expire(ctx, key, r.params.TTL).Err(); err != nil {
			return fmt.Errorf("failed to set expiry on %s: %w", key, err)
		}
	}

	r.log.Trace().Str("key", key).Int("fields", len(fields)).Msg("snapshot saved")
	return nil
}

var _ SnapshotStore = &RedisSnapshotStore{}
var _ RedisHashClient = &redis.Client{}
