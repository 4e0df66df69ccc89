package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func setupRedisLimiterTest(t *testing.T, limit int, window time.Duration) (*RedisLimiter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLimiter(client, "test", limit, window)

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return limiter, cleanup
}

func TestRedisLimiterAllowsWithinLimit(t *testing.T) {
	limiter, cleanup := setupRedisLimiterTest(t, 2, time.Minute)
	defer cleanup()
	ctx := context.Background()

	ok, _, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	ok, retryAfter, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestRedisLimiterResetClearsCounter(t *testing.T) {
	limiter, cleanup := setupRedisLimiterTest(t, 1, time.Minute)
	defer cleanup()
	ctx := context.Background()

	ok, _, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, limiter.Reset(ctx, "k"))

	ok, _, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
}
