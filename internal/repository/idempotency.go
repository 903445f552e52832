package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard remembers request keys for a bounded time.
type IdempotencyGuard interface {
	// Acquire records key and reports whether it was seen for the first time.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a failed request can be retried.
	Release(ctx context.Context, key string) error
}

type RedisIdempotency struct {
	redisClient redis.Cmdable
	keyPrefix   string
}

var _ IdempotencyGuard = (*RedisIdempotency)(nil)

func NewRedisIdempotency(rdb redis.Cmdable, keyPrefix string) *RedisIdempotency {
	if keyPrefix == "" {
		keyPrefix = "points:idem:"
	}
	return &RedisIdempotency{redisClient: rdb, keyPrefix: keyPrefix}
}

func (g *RedisIdempotency) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.redisClient.SetNX(ctx, g.keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis idempotency acquire: %w", err)
	}
	return ok, nil
}

func (g *RedisIdempotency) Release(ctx context.Context, key string) error {
	if err := g.redisClient.Del(ctx, g.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis idempotency release: %w", err)
	}
	return nil
}

// memorySweepEvery is how many Acquire calls pass between sweeps of expired keys.
const memorySweepEvery = 256

// MemoryIdempotency is the single-process IdempotencyGuard.
type MemoryIdempotency struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	now      func() time.Time
	acquires int
}

var _ IdempotencyGuard = (*MemoryIdempotency)(nil)

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryIdempotency) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.acquires++
	if g.acquires%memorySweepEvery == 0 {
		g.sweep(now)
	}
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryIdempotency) sweep(now time.Time) {
	for key, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, key)
		}
	}
}

func (g *MemoryIdempotency) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}
