//go:build integration

// Integration tests for the Redis cache backend.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/cache/...
package cache_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

func TestRedisBackend_TaggedInvalidation(t *testing.T) {
	ctx := context.Background()

	result, err := containers.StartRedis(ctx)
	require.NoError(t, err, "failed to start Redis container")
	t.Cleanup(func() { _ = result.Container.Terminate(ctx) })

	rdb, err := redis.NewClient(ctx, redis.Config{URI: result.ConnString})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	backend := cache.NewRedisBackend(rdb, time.Hour)
	require.NoError(t, backend.Ping(ctx))

	logger := slog.New(slog.DiscardHandler)
	defs := cache.New[models.FunctionDefinition](cache.NameConfiguration, backend, time.Minute, logger)
	ids := cache.New[models.Client](cache.NameIdentity, backend, time.Minute, logger)

	fn := fixtures.Function()
	defs.Set(ctx, fn.Identifier, *fn, "function:"+fn.Identifier)
	ids.Set(ctx, fixtures.APIKey, *fixtures.Client())

	got, ok := defs.Get(ctx, fn.Identifier)
	require.True(t, ok)
	assert.Equal(t, fn.Procedure, got.Procedure)
	assert.Equal(t, fn.Parameters, got.Parameters)

	n, err := defs.InvalidateTag(ctx, "function:"+fn.Identifier)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok = defs.Get(ctx, fn.Identifier)
	assert.False(t, ok)

	_, ok = ids.Get(ctx, fixtures.APIKey)
	assert.True(t, ok, "other caches keep their entries")

	require.NoError(t, backend.Flush(ctx))
	_, ok = ids.Get(ctx, fixtures.APIKey)
	assert.False(t, ok)
}
