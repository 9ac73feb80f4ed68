package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per identity inside a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a process-local fixed-window counter. Windows reset lazily
// on the first request after they elapse. Counts are lost on restart.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*window
}

type window struct {
	count int
	start time.Time
}

// NewMemoryLimiter allows limit requests per key in each window.
func NewMemoryLimiter(limit int, w time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  w,
		now:     time.Now,
		buckets: make(map[string]*window),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &window{start: now}
		m.buckets[key] = b
	}
	if now.Sub(b.start) > m.window {
		b.count = 0
		b.start = now
	}
	b.count++
	return b.count <= m.limit, nil
}

// RedisLimiter shares the fixed-window counter across processes.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter builds a limiter on an existing client.
func NewRedisLimiter(client *redis.Client, limit int, w time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: w, prefix: "chattia:rl:"}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := r.prefix + key
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing rate counter: %w", err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, k, r.window).Err(); err != nil {
			return false, fmt.Errorf("setting rate window: %w", err)
		}
	}
	return n <= int64(r.limit), nil
}

// FallbackLimiter uses Primary and falls back to Secondary when Primary errors.
type FallbackLimiter struct {
	Primary   RateLimiter
	Secondary RateLimiter
}

func (f FallbackLimiter) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := f.Primary.Allow(ctx, key)
	if err == nil {
		return ok, nil
	}
	return f.Secondary.Allow(ctx, key)
}
