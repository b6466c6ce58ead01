// Package redismock provides a testify mock of the redis Cmdable interface
// and constructors for canned go-redis command results.
package redismock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// Cmdable implements redis.Cmdable (pkg/clients/redis) with testify/mock.
// Variadic arguments are passed to Called as a single slice.
type Cmdable struct {
	mock.Mock
}

func (m *Cmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *Cmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *Cmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *Cmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, expiration)
	return args.Get(0).(*redis.BoolCmd)
}

func (m *Cmdable) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	args := m.Called(ctx, key, members)
	return args.Get(0).(*redis.IntCmd)
}

func (m *Cmdable) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringSliceCmd)
}

func (m *Cmdable) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	args := m.Called(ctx, key, members)
	return args.Get(0).(*redis.IntCmd)
}

func (m *Cmdable) ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd {
	args := m.Called(ctx, key, min, max)
	return args.Get(0).(*redis.IntCmd)
}

func (m *Cmdable) ZCount(ctx context.Context, key, min, max string) *redis.IntCmd {
	args := m.Called(ctx, key, min, max)
	return args.Get(0).(*redis.IntCmd)
}

func (m *Cmdable) ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd {
	args := m.Called(ctx, key, opt)
	return args.Get(0).(*redis.ZSliceCmd)
}

func (m *Cmdable) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Called(ctx, script, keys, args).Get(0).(*redis.Cmd)
}

func (m *Cmdable) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Called(ctx, sha1, keys, args).Get(0).(*redis.Cmd)
}

func (m *Cmdable) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Called(ctx, script, keys, args).Get(0).(*redis.Cmd)
}

func (m *Cmdable) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Called(ctx, sha1, keys, args).Get(0).(*redis.Cmd)
}

func (m *Cmdable) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return m.Called(ctx, hashes).Get(0).(*redis.BoolSliceCmd)
}

func (m *Cmdable) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return m.Called(ctx, script).Get(0).(*redis.StringCmd)
}

func (m *Cmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *Cmdable) Close() error {
	return m.Called().Error(0)
}

// ===========================================================================
// Command result constructors
// ===========================================================================

// Status returns a *redis.StatusCmd holding val or err.
func Status(val string, err error) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// String returns a *redis.StringCmd holding val or err.
func String(val string, err error) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// Int returns a *redis.IntCmd holding val or err.
func Int(val int64, err error) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// Bool returns a *redis.BoolCmd holding val or err.
func Bool(val bool, err error) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// StringSlice returns a *redis.StringSliceCmd holding val or err.
func StringSlice(val []string, err error) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// ZSlice returns a *redis.ZSliceCmd holding val or err.
func ZSlice(val []redis.Z, err error) *redis.ZSliceCmd {
	cmd := redis.NewZSliceCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}

// Result returns a *redis.Cmd holding val or err, as returned by EVAL.
func Result(val interface{}, err error) *redis.Cmd {
	cmd := redis.NewCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(val)
	}
	return cmd
}
