package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/redismock"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

func newTestClient() (*Client, *redismock.Cmdable) {
	m := &redismock.Cmdable{}
	return NewFromClient(m, nil), m
}

func TestNewFromClient_NilConfig(t *testing.T) {
	t.Parallel()
	c := NewFromClient(&redismock.Cmdable{}, nil)
	require.NotNil(t, c)
	assert.NotNil(t, c.config)
	assert.Equal(t, 0, c.dbIndex)
}

func TestNewFromClient_WithConfig(t *testing.T) {
	t.Parallel()
	c := NewFromClient(&redismock.Cmdable{}, &Config{DB: 3})
	assert.Equal(t, 3, c.dbIndex)
}

func TestClient_Set(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Set", mock.Anything, "k", "v", time.Minute).Return(redismock.Status("OK", nil))

	require.NoError(t, c.Set(context.Background(), "k", "v", time.Minute))
	m.AssertExpectations(t)
}

func TestClient_Set_Error(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Set", mock.Anything, "k", "v", time.Duration(0)).
		Return(redismock.Status("", errors.New("connection refused")))

	err := c.Set(context.Background(), "k", "v", 0)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
}

func TestClient_Set_Timeout(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Set", mock.Anything, "k", "v", time.Duration(0)).
		Return(redismock.Status("", context.DeadlineExceeded))

	err := c.Set(context.Background(), "k", "v", 0)
	assert.True(t, sserr.HasCode(err, sserr.CodeTimeoutDatabase))
}

func TestClient_Get(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Get", mock.Anything, "k").Return(redismock.String("v", nil))

	val, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestClient_Get_MissingKeyPassesNilThrough(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Get", mock.Anything, "gone").Return(redismock.String("", redis.Nil))

	_, err := c.Get(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, Nil))
	_, isSS := sserr.AsError(err)
	assert.False(t, isSS, "missing key must not be classified")
}

func TestClient_Del(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Del", mock.Anything, []string{"a", "b"}).Return(redismock.Int(2, nil))

	n, err := c.Del(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestClient_Del_NoKeysSkipsRoundTrip(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()

	n, err := c.Del(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	m.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
}

func TestClient_SetMembers(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("SAdd", mock.Anything, "tag:x", []interface{}{"k1"}).Return(redismock.Int(1, nil))
	m.On("SMembers", mock.Anything, "tag:x").Return(redismock.StringSlice([]string{"k1"}, nil))

	added, err := c.SAdd(context.Background(), "tag:x", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), added)

	members, err := c.SMembers(context.Background(), "tag:x")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, members)
}

func TestClient_SortedSetCommands(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	ctx := context.Background()
	z := redis.Z{Score: 1000, Member: "1000-abc"}
	rng := &redis.ZRangeBy{Min: "(500", Max: "+inf", Offset: 0, Count: 1}

	m.On("ZRemRangeByScore", mock.Anything, "w", "-inf", "500").Return(redismock.Int(3, nil))
	m.On("ZAdd", mock.Anything, "w", []redis.Z{z}).Return(redismock.Int(1, nil))
	m.On("ZCount", mock.Anything, "w", "(500", "+inf").Return(redismock.Int(4, nil))
	m.On("ZRangeByScoreWithScores", mock.Anything, "w", rng).Return(redismock.ZSlice([]redis.Z{z}, nil))
	m.On("Expire", mock.Anything, "w", 70*time.Second).Return(redismock.Bool(true, nil))

	removed, err := c.ZRemRangeByScore(ctx, "w", "-inf", "500")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	_, err = c.ZAdd(ctx, "w", z)
	require.NoError(t, err)

	count, err := c.ZCount(ctx, "w", "(500", "+inf")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	first, err := c.ZRangeByScoreWithScores(ctx, "w", rng)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, float64(1000), first[0].Score)

	ok, err := c.Expire(ctx, "w", 70*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	m.AssertExpectations(t)
}

// serverError mimics a reply error from the Redis server.
type serverError string

func (e serverError) Error() string { return string(e) }
func (serverError) RedisError()     {}

func TestClient_RunScript(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	script := redis.NewScript(`return 1`)
	m.On("EvalSha", mock.Anything, script.Hash(), []string{"k"}, []interface{}{"a"}).
		Return(redismock.Result(int64(1), nil))

	val, err := c.RunScript(context.Background(), script, []string{"k"}, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
	m.AssertNotCalled(t, "Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClient_RunScript_LoadsUncachedScript(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	script := redis.NewScript(`return 2`)
	m.On("EvalSha", mock.Anything, script.Hash(), []string{"k"}, []interface{}(nil)).
		Return(redismock.Result(nil, serverError("NOSCRIPT No matching script.")))
	m.On("Eval", mock.Anything, `return 2`, []string{"k"}, []interface{}(nil)).
		Return(redismock.Result(int64(2), nil))

	val, err := c.RunScript(context.Background(), script, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
	m.AssertExpectations(t)
}

func TestClient_RunScript_Error(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	script := redis.NewScript(`return 3`)
	m.On("EvalSha", mock.Anything, script.Hash(), []string{"k"}, []interface{}(nil)).
		Return(redismock.Result(nil, errors.New("connection reset")))

	_, err := c.RunScript(context.Background(), script, []string{"k"})
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalDatabase))
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Ping", mock.Anything).Return(redismock.Status("PONG", nil)).Once()
	require.NoError(t, c.Health(context.Background()))

	m.On("Ping", mock.Anything).Return(redismock.Status("", errors.New("down"))).Once()
	err := c.Health(context.Background())
	assert.True(t, sserr.HasCode(err, sserr.CodeUnavailableDependency))
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	c, m := newTestClient()
	m.On("Close").Return(nil)
	assert.NoError(t, c.Close())
	m.AssertExpectations(t)
}

func TestWrapError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, wrapError(nil, "x"))
	assert.Equal(t, sserr.CodeTimeoutDatabase, wrapError(context.DeadlineExceeded, "x").Code)
	assert.Equal(t, sserr.CodeInternalDatabase, wrapError(context.Canceled, "x").Code)
	assert.Equal(t, sserr.CodeInternalDatabase, wrapError(errors.New("boom"), "x").Code)
}
