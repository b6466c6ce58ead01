package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUBackend_SetGet(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(10, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	val, found, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	_, found, err = b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLRUBackend_PerEntryExpiry(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(10, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "short", []byte("1"), time.Second, "t"))
	require.NoError(t, b.Set(ctx, "long", []byte("2"), time.Minute, "t"))

	now = now.Add(2 * time.Second)
	_, found, _ := b.Get(ctx, "short")
	assert.False(t, found, "expired entry must read as a miss")
	_, found, _ = b.Get(ctx, "long")
	assert.True(t, found)

	n, err := b.InvalidateTag(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expired entry must already be untagged")
}

func TestLRUBackend_InvalidateTag_Scoped(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(10, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a1", []byte("x"), 0, "fn:a"))
	require.NoError(t, b.Set(ctx, "a2", []byte("x"), 0, "fn:a", "client:1"))
	require.NoError(t, b.Set(ctx, "b1", []byte("x"), 0, "fn:b", "client:1"))

	n, err := b.InvalidateTag(ctx, "fn:a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, found, _ := b.Get(ctx, "b1")
	assert.True(t, found)

	n, err = b.InvalidateTag(ctx, "client:1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a2 was already removed")
	assert.Equal(t, 0, b.Len())
}

func TestLRUBackend_ReplaceDropsOldTags(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(10, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("1"), 0, "old"))
	require.NoError(t, b.Set(ctx, "k", []byte("2"), 0, "new"))

	n, _ := b.InvalidateTag(ctx, "old")
	assert.Equal(t, 0, n)
	_, found, _ := b.Get(ctx, "k")
	assert.True(t, found)
}

func TestLRUBackend_EvictionUntags(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a", []byte("1"), 0, "t"))
	require.NoError(t, b.Set(ctx, "b", []byte("2"), 0, "t"))
	require.NoError(t, b.Set(ctx, "c", []byte("3"), 0, "t"))

	b.mu.Lock()
	tagged := len(b.tags["t"])
	b.mu.Unlock()
	assert.Equal(t, 2, tagged)
}

func TestLRUBackend_FlushIdempotent(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(10, time.Hour)
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0, "t"))

	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 0, b.Len())
	n, _ := b.InvalidateTag(ctx, "t")
	assert.Equal(t, 0, n)
}

func TestLRUBackend_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	b := NewLRUBackend(64, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + (i+j)%26))
				_ = b.Set(ctx, key, []byte{byte(j)}, time.Minute, "t", key)
				_, _, _ = b.Get(ctx, key)
				if j%50 == 0 {
					_, _ = b.InvalidateTag(ctx, "t")
				}
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, b.Flush(ctx))
}
