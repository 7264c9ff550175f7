// Package ratelimit provides sliding-window-log rate limiting keyed by
// (scope, ip, user). Each check trims expired events, records the current one,
// counts the window and refreshes the key expiry as a single atomic step
// against the shared store, so concurrent callers on the same key never
// observe a stale count.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/policy"
)

// KeyPrefix is prepended to every rate limit key.
const KeyPrefix = "rl:"

// ExpirySlack is added to the window when refreshing a key's TTL.
const ExpirySlack = 5 * time.Second

// AnonymousUser replaces an empty user id in keys.
const AnonymousUser = "anon"

// Identity is the caller a limit applies to.
type Identity struct {
	IP     string
	UserID string // empty for unauthenticated callers
}

// Key returns the store key rl:<scope>:<ip>:<userId>.
func Key(scope string, id Identity) string {
	user := id.UserID
	if user == "" {
		user = AnonymousUser
	}
	return KeyPrefix + scope + ":" + id.IP + ":" + user
}

// Result is the outcome of one CheckAndConsume call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    int64 // epoch seconds
	RetryAfter int   // seconds, set when !Allowed
	Degraded   bool  // the store failed and the limiter failed open
}

// Headers returns the X-RateLimit-* response headers for r.
func (r Result) Headers() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt, 10),
	}
}

// Window is the atomic critical section a limiter runs against: trim events
// at or before now-window, record now, refresh the TTL and return the number
// of events left in the window including the one just recorded.
type Window interface {
	Hit(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error)
}

// Limiter performs rate limiting checks against a Window store.
type Limiter struct {
	store   Window
	onError policy.FailurePolicy
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFailurePolicy sets what happens when the store is unavailable. The
// default is policy.FailOpen.
func WithFailurePolicy(p policy.FailurePolicy) Option {
	return func(l *Limiter) { l.onError = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter backed by the given store.
func NewLimiter(store Window, opts ...Option) *Limiter {
	l := &Limiter{store: store, onError: policy.FailOpen, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume records one event for (scope, id) and reports whether it
// fits in preset. The event is recorded even when the call is rejected.
//
// On store errors the limiter fails open by default: it logs, returns an
// allowed result with Degraded set and a nil error. With policy.FailClosed
// the error is returned wrapped in policy.ErrStoreUnavailable.
func (l *Limiter) CheckAndConsume(ctx context.Context, scope string, id Identity, preset Preset) (Result, error) {
	key := Key(scope, id)
	now := l.now()
	window := preset.Window()
	resetAt := now.Add(window).Unix()

	count, err := l.store.Hit(ctx, key, now, window, window+ExpirySlack)
	if err != nil {
		metrics.StoreError(metrics.GuardRateLimit)
		if l.onError == policy.FailClosed {
			return Result{}, policy.Unavailable("ratelimit", err)
		}
		log.Printf("[ratelimit] store error key=%s: %v (failing open)", key, err)
		metrics.Decision(metrics.GuardRateLimit, metrics.OutcomeDegraded)
		return Result{
			Allowed:   true,
			Limit:     preset.Max,
			Remaining: preset.Max,
			ResetAt:   resetAt,
			Degraded:  true,
		}, nil
	}

	remaining := preset.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   int(count) <= preset.Max,
		Limit:     preset.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = preset.WindowSeconds
		metrics.Decision(metrics.GuardRateLimit, metrics.OutcomeBlocked)
	} else {
		metrics.Decision(metrics.GuardRateLimit, metrics.OutcomeAllowed)
	}
	return res, nil
}

// Enforce is CheckAndConsume that turns a rejection into a RATE_LIMITED
// policy error.
func (l *Limiter) Enforce(ctx context.Context, scope string, id Identity, preset Preset) (Result, error) {
	res, err := l.CheckAndConsume(ctx, scope, id, preset)
	if err != nil {
		return res, err
	}
	if !res.Allowed {
		return res, policy.RateLimited(scope, res.RetryAfter)
	}
	return res, nil
}
