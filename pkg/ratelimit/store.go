package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
)

// WindowStore holds the timestamp sets behind sliding windows. Every method
// must be safe for concurrent use across processes sharing the store.
type WindowStore interface {
	// Prune removes entries recorded at or before before.
	Prune(ctx context.Context, key string, before time.Time) error

	// Add records member at at and refreshes the set's own expiry to ttl.
	Add(ctx context.Context, key string, at time.Time, member string, ttl time.Duration) error

	// Count prunes entries at or before since and counts the rest.
	Count(ctx context.Context, key string, since time.Time) (int, error)

	// Earliest returns the oldest entry recorded after since.
	Earliest(ctx context.Context, key string, since time.Time) (time.Time, bool, error)

	// TryAdd prunes entries at or before since and, when fewer than limit
	// remain, records member at at and refreshes the expiry to ttl. The
	// prune, count and insert happen as one step, so concurrent callers
	// sharing the store never record more than limit entries in a window.
	TryAdd(ctx context.Context, key string, since, at time.Time, member string, limit int, ttl time.Duration) (Window, error)
}

// Window is the state of a window after [WindowStore.TryAdd].
type Window struct {
	// Count includes the new entry when Added is set.
	Count int
	Added bool

	// Earliest is the oldest surviving entry; zero when the window is
	// empty.
	Earliest time.Time
}

// ===========================================================================
// Redis
// ===========================================================================

// RedisKeyPrefix namespaces window keys.
const RedisKeyPrefix = "ratelimit:v1:"

// RedisCommands is the subset of [*redis.Client] the window store uses.
type RedisCommands interface {
	ZAdd(ctx context.Context, key string, members ...goredis.Z) (int64, error)
	ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error)
	ZCount(ctx context.Context, key, min, max string) (int64, error)
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *goredis.ZRangeBy) ([]goredis.Z, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	RunScript(ctx context.Context, script *goredis.Script, keys []string, args ...interface{}) (interface{}, error)
}

var _ RedisCommands = (*redis.Client)(nil)

// RedisWindowStore keeps each window in a sorted set scored by microseconds
// since the epoch. Microseconds keep scores exact in a float64.
type RedisWindowStore struct {
	rdb RedisCommands
}

var _ WindowStore = (*RedisWindowStore)(nil)

// NewRedisWindowStore returns a store on rdb.
func NewRedisWindowStore(rdb RedisCommands) *RedisWindowStore {
	return &RedisWindowStore{rdb: rdb}
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func (s *RedisWindowStore) Prune(ctx context.Context, key string, before time.Time) error {
	_, err := s.rdb.ZRemRangeByScore(ctx, RedisKeyPrefix+key, "-inf", score(before))
	return err
}

func (s *RedisWindowStore) Add(ctx context.Context, key string, at time.Time, member string, ttl time.Duration) error {
	full := RedisKeyPrefix + key
	if _, err := s.rdb.ZAdd(ctx, full, goredis.Z{Score: float64(at.UnixMicro()), Member: member}); err != nil {
		return err
	}
	_, err := s.rdb.Expire(ctx, full, ttl)
	return err
}

func (s *RedisWindowStore) Count(ctx context.Context, key string, since time.Time) (int, error) {
	if err := s.Prune(ctx, key, since); err != nil {
		return 0, err
	}
	n, err := s.rdb.ZCount(ctx, RedisKeyPrefix+key, "("+score(since), "+inf")
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// tryAddScript runs TryAdd on the server.
// KEYS[1] window; ARGV since score, at score, member, limit, ttl in ms.
// Returns {count, added, earliest score or -1}.
var tryAddScript = goredis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = redis.call('ZCARD', KEYS[1])
local added = 0
if n < tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  n = n + 1
  added = 1
end
local earliest = -1
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #first == 2 then
  earliest = tonumber(first[2])
end
return {n, added, earliest}
`)

func (s *RedisWindowStore) TryAdd(ctx context.Context, key string, since, at time.Time, member string, limit int, ttl time.Duration) (Window, error) {
	res, err := s.rdb.RunScript(ctx, tryAddScript, []string{RedisKeyPrefix + key},
		score(since), score(at), member, limit, ttl.Milliseconds())
	if err != nil {
		return Window{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Window{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	ints := make([]int64, len(vals))
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return Window{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
		}
		ints[i] = n
	}
	w := Window{Count: int(ints[0]), Added: ints[1] == 1}
	if ints[2] >= 0 {
		w.Earliest = time.UnixMicro(ints[2])
	}
	return w, nil
}

func (s *RedisWindowStore) Earliest(ctx context.Context, key string, since time.Time) (time.Time, bool, error) {
	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, RedisKeyPrefix+key, &goredis.ZRangeBy{
		Min:   "(" + score(since),
		Max:   "+inf",
		Count: 1,
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(int64(zs[0].Score)), true, nil
}

// ===========================================================================
// Memory
// ===========================================================================

// sweepEvery is how many Adds pass between scans for expired windows.
const sweepEvery = 1024

type memoryWindow struct {
	entries []time.Time
	expires time.Time
}

// MemoryWindowStore is a single-process [WindowStore]. Windows are dropped
// once empty or past their expiry.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	adds    int
}

var _ WindowStore = (*MemoryWindowStore)(nil)

// NewMemoryWindowStore returns an empty store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*memoryWindow)}
}

// prune must be called with s.mu held.
func (s *MemoryWindowStore) prune(key string, before time.Time) *memoryWindow {
	w, ok := s.windows[key]
	if !ok {
		return nil
	}
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].After(before) })
	w.entries = w.entries[i:]
	if len(w.entries) == 0 {
		delete(s.windows, key)
		return nil
	}
	return w
}

func (s *MemoryWindowStore) Prune(_ context.Context, key string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(key, before)
	return nil
}

func (s *MemoryWindowStore) Add(_ context.Context, key string, at time.Time, _ string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(key, at, ttl)
	return nil
}

// add must be called with s.mu held.
func (s *MemoryWindowStore) add(key string, at time.Time, ttl time.Duration) *memoryWindow {
	w, ok := s.windows[key]
	if !ok {
		w = &memoryWindow{}
		s.windows[key] = w
	}
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].After(at) })
	w.entries = append(w.entries, time.Time{})
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = at
	w.expires = at.Add(ttl)

	s.adds++
	if s.adds%sweepEvery == 0 {
		for k, other := range s.windows {
			if !at.Before(other.expires) {
				delete(s.windows, k)
			}
		}
	}
	return w
}

func (s *MemoryWindowStore) TryAdd(_ context.Context, key string, since, at time.Time, _ string, limit int, ttl time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.prune(key, since)
	var res Window
	if w != nil {
		res.Count = len(w.entries)
	}
	if res.Count < limit {
		w = s.add(key, at, ttl)
		res.Count++
		res.Added = true
	}
	if w != nil && len(w.entries) > 0 {
		res.Earliest = w.entries[0]
	}
	return res, nil
}

func (s *MemoryWindowStore) Count(_ context.Context, key string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.prune(key, since)
	if w == nil {
		return 0, nil
	}
	return len(w.entries), nil
}

func (s *MemoryWindowStore) Earliest(_ context.Context, key string, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return time.Time{}, false, nil
	}
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].After(since) })
	if i == len(w.entries) {
		return time.Time{}, false, nil
	}
	return w.entries[i], true, nil
}

// Len returns the number of live windows.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
