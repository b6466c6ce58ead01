//go:build integration

// Integration tests for the Redis-backed sliding window.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/ratelimit/...
package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/ratelimit"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	result, err := containers.StartRedis(ctx)
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() { _ = result.Container.Terminate(ctx) })

	rdb, err := redis.NewClient(ctx, redis.Config{URI: result.ConnString})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisWindowStore_SlidingWindow(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	clock := func() time.Time { return now }
	limiter := ratelimit.New(ratelimit.NewRedisWindowStore(rdb), ratelimit.WithClock(clock))
	budget := ratelimit.Budget{Count: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "client:101", budget)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		now = now.Add(10 * time.Second)
	}

	d, err := limiter.Check(ctx, "client:101", budget)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
	assert.False(t, d.Degraded)

	// The first hit leaves the window.
	now = now.Add(31 * time.Second)
	d, err = limiter.Check(ctx, "client:101", budget)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	other, err := limiter.Check(ctx, "client:202", budget)
	require.NoError(t, err)
	assert.Equal(t, 2, other.Remaining)
}
