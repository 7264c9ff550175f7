// Package blacklist rejects requests whose IP, device id or phone number is
// on the operator-managed denylist. Values are compared exactly as they
// arrive on the request; no normalization is applied.
package blacklist

import (
	"context"
	"log"
	"sort"

	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/policy"
)

// EntryType is the request attribute a blacklist entry matches.
type EntryType string

const (
	TypeIP     EntryType = "IP"
	TypeDevice EntryType = "DEVICE"
	TypePhone  EntryType = "PHONE"
)

// precedence orders matches when several types hit at once: IP, then
// DEVICE, then PHONE. The first match after ordering supplies the reason.
var precedence = map[EntryType]int{
	TypeIP:     0,
	TypeDevice: 1,
	TypePhone:  2,
}

// MaxMatches bounds the number of entries fetched per check.
const MaxMatches = 10

// Entry is one denylist record. Entries are managed by operators; the guard
// only reads active ones.
type Entry struct {
	Type     EntryType
	Value    string
	Reason   string
	IsActive bool
}

// Candidate is one (type, value) pair taken from a request.
type Candidate struct {
	Type  EntryType
	Value string
}

// Store looks up active entries matching any candidate.
type Store interface {
	FindActive(ctx context.Context, candidates []Candidate, limit int) ([]Entry, error)
}

// Request carries the attributes checked against the denylist. Empty fields
// are skipped.
type Request struct {
	IP       string
	DeviceID string
	Phone    string
}

// Candidates returns the request's non-empty attributes in precedence order.
func (r Request) Candidates() []Candidate {
	var out []Candidate
	if r.IP != "" {
		out = append(out, Candidate{Type: TypeIP, Value: r.IP})
	}
	if r.DeviceID != "" {
		out = append(out, Candidate{Type: TypeDevice, Value: r.DeviceID})
	}
	if r.Phone != "" {
		out = append(out, Candidate{Type: TypePhone, Value: r.Phone})
	}
	return out
}

// Match is the outcome of a positive lookup.
type Match struct {
	Types  []string
	Reason string
}

// Guard checks requests against the denylist.
type Guard struct {
	store   Store
	onError policy.FailurePolicy
}

// NewGuard creates a Guard. An empty onError defaults to policy.FailOpen.
func NewGuard(store Store, onError policy.FailurePolicy) *Guard {
	if onError == "" {
		onError = policy.FailOpen
	}
	return &Guard{store: store, onError: onError}
}

// Lookup returns the match for req, or nil when nothing active matches.
// Store errors are returned wrapped in policy.ErrStoreUnavailable.
func (g *Guard) Lookup(ctx context.Context, req Request) (*Match, error) {
	candidates := req.Candidates()
	if len(candidates) == 0 {
		return nil, nil
	}

	entries, err := g.store.FindActive(ctx, candidates, MaxMatches)
	if err != nil {
		return nil, policy.Unavailable("blacklist", err)
	}

	wanted := make(map[Candidate]bool, len(candidates))
	for _, c := range candidates {
		wanted[c] = true
	}
	var hits []Entry
	for _, e := range entries {
		// Only exact, active matches count, whatever the store returned.
		if e.IsActive && wanted[Candidate{Type: e.Type, Value: e.Value}] {
			hits = append(hits, e)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return precedence[hits[i].Type] < precedence[hits[j].Type]
	})
	m := &Match{Reason: hits[0].Reason}
	seen := make(map[EntryType]bool, 3)
	for _, h := range hits {
		if !seen[h.Type] {
			seen[h.Type] = true
			m.Types = append(m.Types, string(h.Type))
		}
	}
	return m, nil
}

// AssertNotBlacklisted returns a BLACKLISTED policy error when req matches an
// active entry. Store failures follow the guard's failure policy.
func (g *Guard) AssertNotBlacklisted(ctx context.Context, req Request) error {
	m, err := g.Lookup(ctx, req)
	if err != nil {
		metrics.StoreError(metrics.GuardBlacklist)
		if g.onError == policy.FailClosed {
			return err
		}
		log.Printf("[blacklist] lookup failed ip=%s: %v (failing open)", req.IP, err)
		metrics.Decision(metrics.GuardBlacklist, metrics.OutcomeDegraded)
		return nil
	}
	if m == nil {
		metrics.Decision(metrics.GuardBlacklist, metrics.OutcomeAllowed)
		return nil
	}
	metrics.Decision(metrics.GuardBlacklist, metrics.OutcomeBlocked)
	return policy.Blacklisted(m.Types, m.Reason)
}
