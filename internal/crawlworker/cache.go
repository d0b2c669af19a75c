package crawlworker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskCache is the orchestrator's read-through task reference. The worker
// owns task state; the cache only remembers the last observed snapshot.
type TaskCache interface {
	Get(ctx context.Context, id string) (Task, bool)
	Set(ctx context.Context, task Task)
}

// MemoryTaskCache is the default single-process cache.
type MemoryTaskCache struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewMemoryTaskCache constructs a MemoryTaskCache.
func NewMemoryTaskCache() *MemoryTaskCache {
	return &MemoryTaskCache{tasks: make(map[string]Task)}
}

// Get returns the cached snapshot for id.
func (c *MemoryTaskCache) Get(_ context.Context, id string) (Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[id]
	return task, ok
}

// Set records the latest snapshot for a task.
func (c *MemoryTaskCache) Set(_ context.Context, task Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[task.ID] = task
}

// RedisTaskCache shares task snapshots across API replicas. Entries expire
// so abandoned tasks do not accumulate.
type RedisTaskCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisCacheConfig carries the redis connection knobs.
type RedisCacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisTaskCache constructs a cache against the configured redis.
func NewRedisTaskCache(cfg RedisCacheConfig) *RedisTaskCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &RedisTaskCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: cfg.TTL,
	}
}

func taskKey(id string) string {
	return fmt.Sprintf("crawltask:%s", id)
}

// Get returns the cached snapshot for id. Redis errors degrade to a miss.
func (c *RedisTaskCache) Get(ctx context.Context, id string) (Task, bool) {
	raw, err := c.client.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		return Task{}, false
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, false
	}
	return task, true
}

// Set records the latest snapshot for a task, best effort.
func (c *RedisTaskCache) Set(ctx context.Context, task Task) {
	raw, err := json.Marshal(task)
	if err != nil {
		return
	}
	c.client.Set(ctx, taskKey(task.ID), raw, c.ttl)
}
