package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultLRUSize bounds an in-process backend when no size is configured.
const DefaultLRUSize = 10_000

type lruEntry struct {
	value   []byte
	expires time.Time
	tags    []string
}

// LRUBackend is an in-process [Backend] over an expirable LRU. Entries carry
// their own expiry; maxTTL bounds how long the LRU itself keeps anything.
//
// The tag index has its own mutex. LRU methods are never called while it is
// held because the eviction callback runs under the LRU's lock and takes
// the tag mutex.
type LRUBackend struct {
	lru *expirable.LRU[string, lruEntry]

	mu   sync.Mutex
	tags map[string]map[string]struct{}

	now func() time.Time
}

var _ Backend = (*LRUBackend)(nil)

// NewLRUBackend returns a backend holding at most size entries, none longer
// than maxTTL.
func NewLRUBackend(size int, maxTTL time.Duration) *LRUBackend {
	if size <= 0 {
		size = DefaultLRUSize
	}
	b := &LRUBackend{
		tags: make(map[string]map[string]struct{}),
		now:  time.Now,
	}
	b.lru = expirable.NewLRU[string, lruEntry](size, b.onEvict, maxTTL)
	return b
}

func (b *LRUBackend) onEvict(key string, e lruEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.untag(key, e.tags)
}

// untag must be called with b.mu held.
func (b *LRUBackend) untag(key string, tags []string) {
	for _, tag := range tags {
		keys := b.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(b.tags, tag)
		}
	}
}

func (b *LRUBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := b.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !b.now().Before(e.expires) {
		b.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (b *LRUBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	e := lruEntry{value: value, tags: tags}
	if ttl > 0 {
		e.expires = b.now().Add(ttl)
	}
	old, replaced := b.lru.Peek(key)

	b.mu.Lock()
	if replaced {
		b.untag(key, old.tags)
	}
	for _, tag := range tags {
		keys, ok := b.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			b.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	b.mu.Unlock()

	b.lru.Add(key, e)
	return nil
}

func (b *LRUBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		b.lru.Remove(key)
	}
	return nil
}

func (b *LRUBackend) InvalidateTag(_ context.Context, tag string) (int, error) {
	b.mu.Lock()
	keys := make([]string, 0, len(b.tags[tag]))
	for key := range b.tags[tag] {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if b.lru.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

func (b *LRUBackend) Flush(context.Context) error {
	b.lru.Purge()
	b.mu.Lock()
	b.tags = make(map[string]map[string]struct{})
	b.mu.Unlock()
	return nil
}

func (b *LRUBackend) Ping(context.Context) error { return nil }

// Len returns the number of live entries.
func (b *LRUBackend) Len() int {
	return b.lru.Len()
}
