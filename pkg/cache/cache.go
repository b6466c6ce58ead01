package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of one cache's counters.
type Stats struct {
	Name          string `json:"name"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Sets          uint64 `json:"sets"`
	Invalidations uint64 `json:"invalidations"`
	Errors        uint64 `json:"errors"`
}

// HitRatio returns hits / (hits + misses), or 0 before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a typed, namespaced view over a [Backend]. Values are stored as
// JSON. Keys and tags are prefixed with the cache name so several caches
// can share one backend.
type Cache[T any] struct {
	name    string
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger

	hits, misses, sets, invalidations, errors atomic.Uint64
}

// New returns a cache named name whose entries live for ttl.
func New[T any](name string, backend Backend, ttl time.Duration, logger *slog.Logger) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		name:    name,
		backend: backend,
		ttl:     ttl,
		logger:  logger.With(slog.String("cache", name)),
	}
}

// Name returns the cache name.
func (c *Cache[T]) Name() string { return c.name }

// TTL returns the entry lifetime.
func (c *Cache[T]) TTL() time.Duration { return c.ttl }

func (c *Cache[T]) key(k string) string { return c.name + ":" + k }

func (c *Cache[T]) tag(t string) string { return c.name + ":" + t }

func (c *Cache[T]) nsTag() string { return "ns:" + c.name }

// Get returns the cached value. Backend and decode failures are logged and
// reported as a miss.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	raw, found, err := c.backend.Get(ctx, c.key(key))
	if err != nil {
		c.fail(ctx, "get", key, err)
		c.count(&c.misses, eventMiss)
		return zero, false
	}
	if !found {
		c.count(&c.misses, eventMiss)
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.fail(ctx, "decode", key, err)
		c.count(&c.misses, eventMiss)
		return zero, false
	}
	c.count(&c.hits, eventHit)
	return v, true
}

// Set stores v under key with the given tags. Failures are logged and the
// entry is skipped.
func (c *Cache[T]) Set(ctx context.Context, key string, v T, tags ...string) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.fail(ctx, "encode", key, err)
		return
	}
	full := make([]string, 0, len(tags)+1)
	full = append(full, c.nsTag())
	for _, t := range tags {
		full = append(full, c.tag(t))
	}
	if err := c.backend.Set(ctx, c.key(key), raw, c.ttl, full...); err != nil {
		c.fail(ctx, "set", key, err)
		return
	}
	c.count(&c.sets, eventSet)
}

// Delete removes keys and returns the first backend error.
func (c *Cache[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.backend.Delete(ctx, full...); err != nil {
		c.fail(ctx, "delete", keys[0], err)
		return err
	}
	c.invalidations.Add(uint64(len(keys)))
	cacheEventsTotal.WithLabelValues(c.name, eventInvalidation).Add(float64(len(keys)))
	return nil
}

// InvalidateTag removes every entry of this cache tagged with tag.
func (c *Cache[T]) InvalidateTag(ctx context.Context, tag string) (int, error) {
	n, err := c.backend.InvalidateTag(ctx, c.tag(tag))
	if err != nil {
		c.fail(ctx, "invalidate", tag, err)
		return 0, err
	}
	c.invalidations.Add(uint64(n))
	cacheEventsTotal.WithLabelValues(c.name, eventInvalidation).Add(float64(n))
	return n, nil
}

// Flush removes every entry of this cache, leaving other caches on the same
// backend intact.
func (c *Cache[T]) Flush(ctx context.Context) error {
	n, err := c.backend.InvalidateTag(ctx, c.nsTag())
	if err != nil {
		c.fail(ctx, "flush", "*", err)
		return err
	}
	c.invalidations.Add(uint64(n))
	cacheEventsTotal.WithLabelValues(c.name, eventInvalidation).Add(float64(n))
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Name:          c.name,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Sets:          c.sets.Load(),
		Invalidations: c.invalidations.Load(),
		Errors:        c.errors.Load(),
	}
}

func (c *Cache[T]) count(counter *atomic.Uint64, event string) {
	counter.Add(1)
	cacheEventsTotal.WithLabelValues(c.name, event).Inc()
}

func (c *Cache[T]) fail(ctx context.Context, op, key string, err error) {
	c.count(&c.errors, eventError)
	c.logger.WarnContext(ctx, "cache operation failed, continuing without cache",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}
