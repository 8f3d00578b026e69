package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, def BucketConfig) (*RedisLuaLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedisLuaLimiter(rdb, def)
	require.NotNil(t, l)
	return l, mr
}

func TestNilClientYieldsNilLimiter(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewRedisLuaLimiter(nil, BucketConfig{Capacity: 10, RefillRate: 1}))

	// A nil limiter allows everything.
	var l *RedisLuaLimiter
	ok, _, err := l.Allow(context.Background(), "k", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBucketFromPerMinute(t *testing.T) {
	t.Parallel()
	cfg := NewBucketConfigFromPerMinute(120)
	assert.Equal(t, int64(120), cfg.Capacity)
	assert.InDelta(t, 2.0, cfg.RefillRate, 1e-9)

	assert.Equal(t, BucketConfig{}, NewBucketConfigFromPerMinute(0))
}

func TestAllowWithinCapacity(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, BucketConfig{Capacity: 3, RefillRate: 0.001})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "key-1", 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within capacity", i)
	}

	ok, retryAfter, err := l.Allow(ctx, "key-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestBucketsAreIndependent(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, BucketConfig{Capacity: 1, RefillRate: 0.001})
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "key-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = l.Allow(ctx, "key-a", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = l.Allow(ctx, "key-b", 1)
	require.NoError(t, err)
	assert.True(t, ok, "a drained bucket must not affect other keys")
}

func TestPerKeyOverride(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, BucketConfig{Capacity: 1, RefillRate: 0.001})
	l.SetBucketConfig("vip", BucketConfig{Capacity: 5, RefillRate: 0.001})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, _, err := l.Allow(ctx, "vip", 1)
		require.NoError(t, err)
		assert.True(t, ok, "override capacity request %d", i)
	}
	ok, _, err := l.Allow(ctx, "vip", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestZeroCapacityAllowsAll(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(t, BucketConfig{})
	ok, _, err := l.Allow(context.Background(), "key", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFailOpenOnRedisError(t *testing.T) {
	t.Parallel()
	l, mr := newTestLimiter(t, BucketConfig{Capacity: 1, RefillRate: 1})
	mr.Close()

	ok, _, err := l.Allow(context.Background(), "key", 1)
	assert.Error(t, err)
	assert.True(t, ok, "redis outage must not block requests")
}
