package cache

import (
	"context"
	"errors"
	"time"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
)

const (
	redisKeyPrefix = "cache:v1:"
	redisTagPrefix = "cache:v1:tag:"

	// allTag indexes every key so Flush needs no SCAN.
	allTag = "__all__"

	// DefaultTagTTL is the minimum lifetime of a tag set. Tag sets outlive
	// the entries they index; a dangling member only costs a no-op DEL.
	DefaultTagTTL = 24 * time.Hour
)

// RedisCommands is the subset of [*redis.Client] the backend uses.
type RedisCommands interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	SAdd(ctx context.Context, key string, members ...interface{}) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	Health(ctx context.Context) error
}

var _ RedisCommands = (*redis.Client)(nil)

// RedisBackend is a shared [Backend] on Redis. Values are plain strings
// with SET EX; each tag is a set of the keys carrying it.
type RedisBackend struct {
	rdb    RedisCommands
	tagTTL time.Duration
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend returns a backend on rdb. A zero tagTTL uses
// [DefaultTagTTL].
func NewRedisBackend(rdb RedisCommands, tagTTL time.Duration) *RedisBackend {
	if tagTTL <= 0 {
		tagTTL = DefaultTagTTL
	}
	return &RedisBackend{rdb: rdb, tagTTL: tagTTL}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.rdb.Get(ctx, redisKeyPrefix+key)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	full := redisKeyPrefix + key
	if err := b.rdb.Set(ctx, full, value, ttl); err != nil {
		return err
	}
	if err := b.index(ctx, full, max(ttl, b.tagTTL), tags); err != nil {
		// An unindexed value would survive InvalidateTag.
		_, _ = b.rdb.Del(context.WithoutCancel(ctx), full)
		return err
	}
	return nil
}

func (b *RedisBackend) index(ctx context.Context, full string, tagTTL time.Duration, tags []string) error {
	for _, tag := range append([]string{allTag}, tags...) {
		tagKey := redisTagPrefix + tag
		if _, err := b.rdb.SAdd(ctx, tagKey, full); err != nil {
			return err
		}
		if _, err := b.rdb.Expire(ctx, tagKey, tagTTL); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = redisKeyPrefix + k
	}
	_, err := b.rdb.Del(ctx, full...)
	return err
}

func (b *RedisBackend) InvalidateTag(ctx context.Context, tag string) (int, error) {
	tagKey := redisTagPrefix + tag
	members, err := b.rdb.SMembers(ctx, tagKey)
	if err != nil {
		return 0, err
	}
	if _, err := b.rdb.Del(ctx, append(members, tagKey)...); err != nil {
		return 0, err
	}
	return len(members), nil
}

func (b *RedisBackend) Flush(ctx context.Context) error {
	_, err := b.InvalidateTag(ctx, allTag)
	return err
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Health(ctx)
}
