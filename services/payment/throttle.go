package payment

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// QueryThrottle limits direct gateway queries per transaction so that many
// pollers share one query per interval.
type QueryThrottle interface {
	// Allow returns true at most once per window for key.
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisThrottle coordinates pollers across instances with SETNX.
type RedisThrottle struct {
	client *redis.Client
	prefix string
}

func NewRedisThrottle(client *redis.Client) *RedisThrottle {
	return &RedisThrottle{client: client, prefix: "payment:throttle:"}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return t.client.SetNX(ctx, t.prefix+key, time.Now().Unix(), window).Result()
}

// MemoryThrottle is the single-process fallback.
type MemoryThrottle struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{until: make(map[string]time.Time), now: time.Now}
}

func (t *MemoryThrottle) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if until, ok := t.until[key]; ok && now.Before(until) {
		return false, nil
	}
	t.until[key] = now.Add(window)
	return true, nil
}

// NoThrottle allows every query.
type NoThrottle struct{}

func (NoThrottle) Allow(context.Context, string, time.Duration) (bool, error) { return true, nil }
