package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindow implements Window with one Lua script per hit, so the trim,
// record, count and expire steps run atomically on the Redis server.
type RedisWindow struct {
	client redis.Scripter
	script *redis.Script
}

// NewRedisWindow creates a Window backed by the given Redis client.
func NewRedisWindow(client redis.Scripter) *RedisWindow {
	return &RedisWindow{
		client: client,
		script: redis.NewScript(slidingWindowLua),
	}
}

// Hit runs the sliding window script for key. Scores are unix milliseconds.
// Members carry a random suffix so two hits in the same millisecond both count.
func (w *RedisWindow) Hit(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error) {
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	count, err := w.script.Run(ctx, w.client, []string{key},
		nowMs-window.Milliseconds(),
		nowMs,
		ttl.Milliseconds(),
		member,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: sliding window %s: %w", key, err)
	}
	return count, nil
}

// slidingWindowLua trims events at or before the cutoff (now-window), records
// now, counts the set and refreshes the expiry. ARGV carries pre-computed
// millisecond values as strings.
const slidingWindowLua = `
local key = KEYS[1]
local cutoff = ARGV[1]
local now = ARGV[2]
local ttl = ARGV[3]
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
redis.call('ZADD', key, now, member)
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, ttl)
return count
`

// MemoryWindow is an in-process Window guarded by a mutex. It only limits
// callers within one process and is meant for tests and single-instance
// development setups.
type MemoryWindow struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	expires map[string]time.Time
}

// NewMemoryWindow creates an empty MemoryWindow.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{
		events:  make(map[string][]time.Time),
		expires: make(map[string]time.Time),
	}
}

// Hit implements Window.
func (w *MemoryWindow) Hit(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if exp, ok := w.expires[key]; ok && !now.Before(exp) {
		delete(w.events, key)
	}

	cutoff := now.Add(-window)
	events := w.events[key]
	// Events are appended in call order but clocks may be injected; keep sorted.
	idx := sort.Search(len(events), func(i int) bool { return events[i].After(cutoff) })
	events = append(events[idx:], now)
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })

	w.events[key] = events
	w.expires[key] = now.Add(ttl)
	return int64(len(events)), nil
}
