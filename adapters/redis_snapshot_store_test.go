package adapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewRedisSnapshotStore(t *testing.T) {
	store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{})
	require.Error(t, err)
	require.Nil(t, store)
}

func TestRedisSnapshotStore_Save(t *testing.T) {
	mClient := &MockHashSetter{}
	store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{
		Client: mClient,
		TTL:    time.Hour,
		Log:    zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	mClient.On("HSet", ctx, "snapshot:D1", []interface{}{
		"mode", `{"fan":"auto"}`,
		"power", `"on"`,
		"temp", `21.5`,
	}).Return(redis.NewIntResult(3, nil)).Once()
	mClient.On("Expire", ctx, "snapshot:D1", time.Hour).Return(redis.NewBoolResult(true, nil)).Once()

	err = store.Save(ctx, "D1", map[string]any{
		"power": "on",
		"temp":  21.5,
		"mode":  map[string]any{"fan": "auto"},
	})
	require.NoError(t, err)

	mClient.AssertExpectations(t)
}

func TestRedisSnapshotStore_Save_NoTTL(t *testing.T) {
	mClient := &MockHashSetter{}
	store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{Client: mClient, Log: zerolog.Nop()})
	require.NoError(t, err)

	mClient.On("HSet", mock.Anything, "snapshot:D1", []interface{}{"power", `"on"`}).
		Return(redis.NewIntResult(1, nil)).Once()

	require.NoError(t, store.Save(context.Background(), "D1", map[string]any{"power": "on"}))

	mClient.AssertExpectations(t)
	mClient.AssertNotCalled(t, "Expire", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedisSnapshotStore_Save_Empty(t *testing.T) {
	mClient := &MockHashSetter{}
	store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{Client: mClient, Log: zerolog.Nop()})
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), "D1", nil))
	mClient.AssertNotCalled(t, "HSet", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedisSnapshotStore_Save_Errors(t *testing.T) {
	t.Run("HSet", func(t *testing.T) {
		mClient := &MockHashSetter{}
		store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{Client: mClient, TTL: time.Minute, Log: zerolog.Nop()})
		require.NoError(t, err)

		mClient.On("HSet", mock.Anything, "snapshot:D1", mock.Anything).
			Return(redis.NewIntResult(0, fmt.Errorf("connection refused"))).Once()

		err = store.Save(context.Background(), "D1", map[string]any{"power": "on"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		mClient.AssertNotCalled(t, "Expire", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Expire", func(t *testing.T) {
		mClient := &MockHashSetter{}
		store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{Client: mClient, TTL: time.Minute, Log: zerolog.Nop()})
		require.NoError(t, err)

		mClient.On("HSet", mock.Anything, "snapshot:D1", mock.Anything).Return(redis.NewIntResult(1, nil)).Once()
		mClient.On("Expire", mock.Anything, "snapshot:D1", time.Minute).
			Return(redis.NewBoolResult(false, fmt.Errorf("timeout"))).Once()

		err = store.Save(context.Background(), "D1", map[string]any{"power": "on"})
		require.Error(t, err)
	})

	t.Run("Encode", func(t *testing.T) {
		mClient := &MockHashSetter{}
		store, err := NewRedisSnapshotStore(RedisSnapshotStoreParams{Client: mClient, Log: zerolog.Nop()})
		require.NoError(t, err)

		err = store.Save(context.Background(), "D1", map[string]any{"bad": make(chan int)})
		require.Error(t, err)
		mClient.AssertNotCalled(t, "HSet", mock.Anything, mock.Anything, mock.Anything)
	})
}
