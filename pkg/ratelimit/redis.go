package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is a fixed-window counter shared across instances,
// adapted from the distributed rate limiter middleware's
// INCR+EXPIRE pipeline pattern. Unlike Limiter's true sliding window,
// this trades precision at window boundaries for O(1) Redis round
// trips; acceptable for the coarse per-IP/per-route ceilings this
// package enforces.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter builds a RedisLimiter allowing limit requests per
// window, per key, shared via client.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow reports whether a request for key is permitted, and the
// Retry-After duration when it is not. On Redis error it fails open
// (allows the request) so a cache outage never takes the registry down.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	if incr.Val() <= int64(l.limit) {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return false, ttl, nil
}

// Reset clears the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}
