package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
// It follows the Go module path convention for OTel instrumentation libraries.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"

// Nil is returned by Get and RunScript when the server replies with a nil
// bulk string. It is the go-redis sentinel, re-exported so callers need not
// import go-redis to test for a cache miss.
const Nil = redis.Nil

// Cmdable defines the Redis commands the gateway issues. It is satisfied by
// [*redis.Client] and by mock implementations for unit testing, injected
// through [NewFromClient].
//
// The interface is kept narrow: it exposes only the commands that [Client]
// wraps with tracing and error classification.
type Cmdable interface {
	// Set sets the string value of a key with an optional expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd

	// Get returns the string value of a key.
	Get(ctx context.Context, key string) *redis.StringCmd

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) *redis.IntCmd

	// Expire sets an expiration on a key.
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd

	// SAdd adds one or more members to a set.
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd

	// SMembers returns all members of a set.
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd

	// ZAdd adds scored members to a sorted set.
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd

	// ZRemRangeByScore removes sorted set members scored within [min, max].
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd

	// ZCount counts sorted set members scored within [min, max].
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd

	// ZRangeByScoreWithScores returns sorted set members and their scores
	// within the given range.
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd

	// Scripter provides EVAL, EVALSHA and SCRIPT LOAD so a [redis.Script]
	// can run by SHA with a fallback to its source.
	redis.Scripter

	// Ping pings the Redis server.
	Ping(ctx context.Context) *redis.StatusCmd

	// Close closes the client connection.
	Close() error
}

// Compile-time check that *redis.Client satisfies Cmdable.
var _ Cmdable = (*redis.Client)(nil)

// Client is a Redis client with OpenTelemetry tracing and structured error
// handling. It wraps a [Cmdable] (typically [*redis.Client]) and records a
// client span for every command it issues.
//
// A Client is safe for concurrent use by multiple goroutines. The gateway
// creates one Client at startup and shares it between the response cache
// and the rate-limit window store.
//
// Create a Client with [NewClient] for production use, or [NewFromClient]
// for testing with mock implementations.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient creates a Redis client with connection pooling. It validates
// cfg, builds go-redis options from either the URI or the discrete host
// fields, and verifies connectivity with a ping. Pool sizing and timeouts
// from cfg override whatever the URI carries.
//
// The caller must call [Client.Close] when the client is no longer needed.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration or unparseable URI
//   - [sserr.CodeUnavailableDependency]: cannot connect to Redis
//
// Example:
//
//	cfg := redis.DefaultConfig()
//	cfg.Host = "cache.internal"
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return fmt.Errorf("connecting to redis: %w", err)
//	}
//	defer client.Close()
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		opts, err = redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: failed to parse connection URI")
		}
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: failed to connect to server")
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: opts.DB,
	}, nil
}

// NewFromClient creates a Client around a pre-existing [Cmdable]. It is
// intended for tests that inject a mock and for callers that manage the
// go-redis client themselves.
//
// cfg is stored but not validated; pass nil for a zero-value config.
//
// Example (testing):
//
//	m := &redismock.Cmdable{}
//	client := redis.NewFromClient(m, nil)
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// Set sets the string value of a key. An expiration of zero means the key
// does not expire.
//
// All errors are wrapped as [*sserr.Error]:
//   - [sserr.CodeTimeoutDatabase] if the context deadline is exceeded
//   - [sserr.CodeInternalDatabase] for all other Redis errors
//
// Example:
//
//	err := client.Set(ctx, "cache:v1:abc", payload, 30*time.Second)
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.cmdable.Set(ctx, key, value, expiration).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Get returns the string value of a key. A missing key returns an error
// matching [Nil] through errors.Is; it is returned unwrapped and is not
// recorded as a span error.
//
// Example:
//
//	val, err := client.Get(ctx, "cache:v1:abc")
//	if errors.Is(err, redis.Nil) {
//	    // miss
//	}
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.cmdable.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return "", err
	}
	finishSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: get failed")
	}
	return val, nil
}

// Del deletes keys and returns how many of them existed. Calling Del with
// no keys is a no-op that issues no command.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	val, err := c.cmdable.Del(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: del failed")
	}
	return val, nil
}

// Expire sets a key's time to live. It reports false when the key does
// not exist.
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	ctx, span := c.startSpan(ctx, "Expire", fmt.Sprintf("EXPIRE %s %v", key, expiration))
	val, err := c.cmdable.Expire(ctx, key, expiration).Result()
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: expire failed")
	}
	return val, nil
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "SAdd", "SADD "+key)
	val, err := c.cmdable.SAdd(ctx, key, members...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: sadd failed")
	}
	return val, nil
}

// SMembers returns every member of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "SMembers", "SMEMBERS "+key)
	val, err := c.cmdable.SMembers(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: smembers failed")
	}
	return val, nil
}

// ZAdd adds scored members to a sorted set.
func (c *Client) ZAdd(ctx context.Context, key string, members ...redis.Z) (int64, error) {
	ctx, span := c.startSpan(ctx, "ZAdd", "ZADD "+key)
	val, err := c.cmdable.ZAdd(ctx, key, members...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: zadd failed")
	}
	return val, nil
}

// ZRemRangeByScore removes members scored within [min, max].
func (c *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	ctx, span := c.startSpan(ctx, "ZRemRangeByScore", fmt.Sprintf("ZREMRANGEBYSCORE %s %s %s", key, min, max))
	val, err := c.cmdable.ZRemRangeByScore(ctx, key, min, max).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: zremrangebyscore failed")
	}
	return val, nil
}

// ZCount counts members scored within [min, max].
func (c *Client) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	ctx, span := c.startSpan(ctx, "ZCount", fmt.Sprintf("ZCOUNT %s %s %s", key, min, max))
	val, err := c.cmdable.ZCount(ctx, key, min, max).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: zcount failed")
	}
	return val, nil
}

// ZRangeByScoreWithScores returns members and scores within opt's range,
// honoring its offset and count.
func (c *Client) ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) ([]redis.Z, error) {
	ctx, span := c.startSpan(ctx, "ZRangeByScoreWithScores",
		fmt.Sprintf("ZRANGEBYSCORE %s %s %s WITHSCORES LIMIT %d %d", key, opt.Min, opt.Max, opt.Offset, opt.Count))
	val, err := c.cmdable.ZRangeByScoreWithScores(ctx, key, opt).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: zrangebyscore failed")
	}
	return val, nil
}

// RunScript executes a Lua script atomically on the server. The script is
// sent by SHA first and by source only when the server has not cached it.
// Keys and args follow the EVAL convention. A script returning nil yields
// an error matching [Nil].
//
// Errors other than [Nil] are classified like every other command:
//   - [sserr.CodeTimeoutDatabase] if the context deadline is exceeded
//   - [sserr.CodeInternalDatabase] for script and connection errors
//
// Example:
//
//	var incr = redis.NewScript(`return redis.call('INCR', KEYS[1])`)
//	n, err := client.RunScript(ctx, incr, []string{"counter"})
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	ctx, span := c.startSpan(ctx, "RunScript", fmt.Sprintf("EVALSHA %s %v", script.Hash(), keys))
	val, err := script.Run(ctx, c.cmdable, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, err
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: script failed")
	}
	return val, nil
}

// Health verifies that the Redis connection is alive by executing a ping.
// It applies [DefaultHealthTimeout] if ctx has no deadline.
//
// Returns nil if Redis is reachable, or a [*sserr.Error] with code
// [sserr.CodeUnavailableDependency] if the ping fails.
//
// Example:
//
//	if err := client.Health(ctx); err != nil {
//	    logger.Warn("redis unhealthy", "error", err)
//	}
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases all connection resources. The client must not be used
// afterwards.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

// startSpan starts a client span carrying the OpenTelemetry database
// semantic attributes.
func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records err on the span, if any, and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError converts a Redis error to a [*sserr.Error]. A deadline becomes
// [sserr.CodeTimeoutDatabase] so [sserr.IsRetryable] reports it; anything
// else, cancellation included, is [sserr.CodeInternalDatabase]. The cache
// treats both as a miss.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
