package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

const (
	DefaultLoginAttempts = 5
	DefaultLoginWindow   = 15 * time.Minute
)

// Window limits how many attempts a key may make within a trailing window.
// Hit records an attempt and reports whether it fits in the budget. Denied
// attempts are not recorded, so a client regains one attempt as soon as its
// oldest recorded attempt leaves the window.
type Window interface {
	Hit(ctx context.Context, key string) (bool, error)
}

// Bypass is a Window that allows everything, used in development mode.
type Bypass struct{}

func (Bypass) Hit(context.Context, string) (bool, error) { return true, nil }

// MemoryWindow keeps a per-key log of attempt times.
type MemoryWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewMemoryWindow returns a MemoryWindow and starts evicting idle keys until
// ctx is done. limit <= 0 or window <= 0 select the login defaults.
func NewMemoryWindow(ctx context.Context, limit int, window time.Duration, now func() time.Time) *MemoryWindow {
	if limit <= 0 {
		limit = DefaultLoginAttempts
	}
	if window <= 0 {
		window = DefaultLoginWindow
	}
	if now == nil {
		now = time.Now
	}
	w := &MemoryWindow{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    now,
	}
	go w.cleanup(ctx)
	return w
}

func (w *MemoryWindow) Hit(_ context.Context, key string) (bool, error) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	live := trim(w.hits[key], now.Add(-w.window))
	if len(live) >= w.limit {
		w.hits[key] = live
		return false, nil
	}
	w.hits[key] = append(live, now)
	return true, nil
}

// trim drops attempts at or before cutoff. hits is in insertion order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (w *MemoryWindow) cleanup(ctx context.Context) {
	ticker := time.NewTicker(w.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.evict(w.now())
		}
	}
}

func (w *MemoryWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	w.mu.Lock()
	for k, hits := range w.hits {
		if live := trim(hits, cutoff); len(live) == 0 {
			delete(w.hits, k)
		} else {
			w.hits[k] = live
		}
	}
	w.mu.Unlock()
}

// slidingWindowScript trims the sorted set to the window, then adds the
// attempt only if the budget allows it. Scores are unix milliseconds.
//
// KEYS[1] attempt set
// ARGV[1] now ms, ARGV[2] cutoff ms, ARGV[3] limit, ARGV[4] member, ARGV[5] window ms
const slidingWindowScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisWindow is a sliding window shared through redis.
type RedisWindow struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration, now func() time.Time) *RedisWindow {
	if limit <= 0 {
		limit = DefaultLoginAttempts
	}
	if window <= 0 {
		window = DefaultLoginWindow
	}
	if now == nil {
		now = time.Now
	}
	return &RedisWindow{redis: client, prefix: prefix, limit: limit, window: window, now: now}
}

func (w *RedisWindow) key(k string) string { return w.prefix + "login:" + k }

func (w *RedisWindow) Hit(ctx context.Context, key string) (bool, error) {
	now := w.now()
	res, err := slidingWindowLua.Run(ctx, w.redis, []string{w.key(key)},
		now.UnixMilli(),
		now.Add(-w.window).UnixMilli(),
		w.limit,
		uuid.NewString(),
		w.window.Milliseconds(),
	).Int()
	if err != nil {
		return false, xerrors.Wrap(err, "login window")
	}
	return res == 1, nil
}
