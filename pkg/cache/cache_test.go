package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// brokenBackend fails every operation.
type brokenBackend struct{ err error }

func (b brokenBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, b.err }

func (b brokenBackend) Set(context.Context, string, []byte, time.Duration, ...string) error {
	return b.err
}

func (b brokenBackend) Delete(context.Context, ...string) error { return b.err }

func (b brokenBackend) InvalidateTag(context.Context, string) (int, error) { return 0, b.err }

func (b brokenBackend) Flush(context.Context) error { return b.err }

func (b brokenBackend) Ping(context.Context) error { return b.err }

func TestCache_RoundTripPreservesDefinition(t *testing.T) {
	t.Parallel()
	c := New[*models.FunctionDefinition](NameConfiguration, NewLRUBackend(10, time.Hour), time.Minute, nil)
	ctx := context.Background()
	fn := fixtures.Function()

	c.Set(ctx, fn.Identifier, fn)
	got, ok := c.Get(ctx, fn.Identifier)
	require.True(t, ok)
	assert.Equal(t, fn.Parameters, got.Parameters)
	assert.Equal(t, fn.Responses, got.Responses)
	assert.Equal(t, fn.Errors, got.Errors)
	assert.True(t, fn.UpdatedAt.Equal(got.UpdatedAt))
}

func TestCache_Namespacing(t *testing.T) {
	t.Parallel()
	backend := NewLRUBackend(10, time.Hour)
	a := New[int64](NameIdentity, backend, time.Minute, nil)
	b := New[int64](NamePermission, backend, time.Minute, nil)
	ctx := context.Background()

	a.Set(ctx, "k", 1, "client:1")
	b.Set(ctx, "k", 2, "client:1")

	n, err := a.InvalidateTag(ctx, "client:1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := a.Get(ctx, "k")
	assert.False(t, ok)
	v, ok := b.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	require.NoError(t, b.Flush(ctx))
	_, ok = b.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_BackendFailureDegradesToMiss(t *testing.T) {
	t.Parallel()
	c := New[string]("test", brokenBackend{err: errors.New("down")}, time.Minute, nil)
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	v, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Empty(t, v)

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Errors)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Zero(t, s.Sets)
}

func TestCache_CorruptValueIsMiss(t *testing.T) {
	t.Parallel()
	backend := NewLRUBackend(10, time.Hour)
	c := New[int]("test", backend, time.Minute, nil)
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "test:k", []byte("not json"), time.Minute))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Errors)
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()
	c := New[int]("test", NewLRUBackend(10, time.Hour), time.Minute, nil)
	ctx := context.Background()

	c.Set(ctx, "k", 1)
	c.Get(ctx, "k")
	c.Get(ctx, "k")
	c.Get(ctx, "other")
	require.NoError(t, c.Delete(ctx, "k"))

	s := c.Stats()
	assert.Equal(t, "test", s.Name)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Sets)
	assert.Equal(t, uint64(1), s.Invalidations)
	assert.InDelta(t, 2.0/3.0, s.HitRatio(), 1e-9)
	assert.Zero(t, Stats{}.HitRatio())
}
