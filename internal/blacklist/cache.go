package blacklist

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keys hold one lookup result per candidate:
//
//	Key:   bl:<TYPE>:<value>
//	Value: "0" when no active entry matched, "1:<reason>" otherwise
//	TTL:   cache ttl
const (
	CachePrefix = "bl:"

	// DefaultCacheTTL bounds how long a new or lifted entry can go unnoticed.
	DefaultCacheTTL = 30 * time.Second

	cacheMiss   = "0"
	cacheHitTag = "1:"
)

// CachedStore answers FindActive from Redis where it can and falls through to
// the wrapped store for the rest. Redis errors never fail a lookup.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStore wraps next with a Redis read-through cache. A non-positive
// ttl uses DefaultCacheTTL.
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{next: next, client: client, ttl: ttl}
}

func cacheKey(c Candidate) string {
	return CachePrefix + string(c.Type) + ":" + c.Value
}

// FindActive implements Store.
func (s *CachedStore) FindActive(ctx context.Context, candidates []Candidate, limit int) ([]Entry, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = cacheKey(c)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("[blacklist] cache read failed: %v (using store)", err)
		return s.next.FindActive(ctx, candidates, limit)
	}

	var out []Entry
	var missing []Candidate
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, candidates[i])
			continue
		}
		if reason, hit := strings.CutPrefix(raw, cacheHitTag); hit {
			out = append(out, Entry{Type: candidates[i].Type, Value: candidates[i].Value, Reason: reason, IsActive: true})
		}
	}
	if len(missing) == 0 {
		return clip(out, limit), nil
	}

	entries, err := s.next.FindActive(ctx, missing, limit)
	if err != nil {
		return nil, err
	}

	found := make(map[Candidate]Entry, len(entries))
	for _, e := range entries {
		if e.IsActive {
			found[Candidate{Type: e.Type, Value: e.Value}] = e
		}
	}

	// A result at the limit may have cut matches off; only its hits are cached.
	truncated := limit > 0 && len(entries) >= limit

	pipe := s.client.Pipeline()
	for _, c := range missing {
		e, ok := found[c]
		if ok {
			out = append(out, e)
			pipe.Set(ctx, cacheKey(c), cacheHitTag+e.Reason, s.ttl)
			continue
		}
		if !truncated {
			pipe.Set(ctx, cacheKey(c), cacheMiss, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[blacklist] cache write failed: %v", err)
	}
	return clip(out, limit), nil
}

// Invalidate drops cached results for candidates, so an entry added or lifted
// by an operator applies on the next request.
func (s *CachedStore) Invalidate(ctx context.Context, candidates ...Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = cacheKey(c)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("blacklist: cache invalidate: %w", err)
	}
	return nil
}

func clip(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
