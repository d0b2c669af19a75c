package crawlworker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryTaskCache(t *testing.T) {
	t.Parallel()

	cache := NewMemoryTaskCache()
	ctx := context.Background()

	_, ok := cache.Get(ctx, "task-1")
	require.False(t, ok)

	task := Task{
		ID:       "task-1",
		Status:   TaskProcessing,
		Progress: 40,
		Result:   json.RawMessage(`{}`),
	}
	cache.Set(ctx, task)

	got, ok := cache.Get(ctx, "task-1")
	require.True(t, ok)
	require.Equal(t, task, got)
}

func TestRedisTaskCacheAppliesConnectionConfig(t *testing.T) {
	t.Parallel()

	cache := NewRedisTaskCache(RedisCacheConfig{
		Addr:     "redis.internal:6380",
		Password: "sekrit",
		DB:       3,
		TTL:      5 * time.Minute,
	})

	opts := cache.client.Options()
	require.Equal(t, "redis.internal:6380", opts.Addr)
	require.Equal(t, "sekrit", opts.Password)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, 5*time.Minute, cache.ttl)
}

func TestRedisTaskCacheDefaultTTL(t *testing.T) {
	t.Parallel()

	cache := NewRedisTaskCache(RedisCacheConfig{Addr: "localhost:6379"})
	require.Equal(t, time.Hour, cache.ttl)
}
