package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"loanflow/internal/loan"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func windowKey(prefix, key string, start time.Time) string {
	return fmt.Sprintf("%s%s:%d", prefix, strings.ReplaceAll(key, " ", "_"), start.Unix())
}

func result(hits, max int64, retry time.Duration) Result {
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: hits <= max, Remaining: remaining}
	if !res.Allowed {
		res.RetryAfter = retry
	}
	return res
}

// MemoryLimiter is a fixed-window limiter held in process memory.
type MemoryLimiter struct {
	c      *gocache.Cache
	clock  loan.Clock
	max    int64
	window time.Duration
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(max int, window time.Duration, clock loan.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, window),
		clock:  clock,
		max:    int64(max),
		window: window,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.clock.Now().UTC()
	start := now.Truncate(l.window)
	k := windowKey("", key, start)

	// Add fails when the window already has hits.
	hits := int64(1)
	if err := l.c.Add(k, int64(1), l.window); err != nil {
		n, err := l.c.IncrementInt64(k, 1)
		if err != nil {
			return Result{}, fmt.Errorf("counting request: %w", err)
		}
		hits = n
	}
	return result(hits, l.max, start.Add(l.window).Sub(now)), nil
}

// RedisLimiter is a fixed-window limiter (INCR + EXPIRE) shared between
// server instances.
type RedisLimiter struct {
	client *redis.Client
	clock  loan.Clock
	prefix string
	max    int64
	window time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, prefix string, max int, window time.Duration, clock loan.Clock) *RedisLimiter {
	if prefix == "" {
		prefix = "loanflow:rl:"
	}
	return &RedisLimiter{
		client: client,
		clock:  clock,
		prefix: prefix,
		max:    int64(max),
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.clock.Now().UTC()
	start := now.Truncate(l.window)
	k := windowKey(l.prefix, key, start)

	hits, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Result{}, fmt.Errorf("counting request: %w", err)
	}
	// Set expiry on first hit.
	if hits == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("setting window expiry: %w", err)
		}
	}
	return result(hits, l.max, start.Add(l.window).Sub(now)), nil
}
