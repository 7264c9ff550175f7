package blacklist

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jedoz/abuseguard/internal/policy"
)

// memStore returns every entry whose (type, value) is a candidate, active or
// not, in insertion order, to exercise the guard's own filtering.
type memStore struct {
	entries []Entry
	err     error
	calls   int
}

func (m *memStore) FindActive(_ context.Context, candidates []Candidate, limit int) ([]Entry, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []Entry
	for _, e := range m.entries {
		for _, c := range candidates {
			if e.Type == c.Type && e.Value == c.Value {
				out = append(out, e)
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestAssertNotBlacklisted_IPMatch(t *testing.T) {
	store := &memStore{entries: []Entry{{Type: TypeIP, Value: "41.202.1.1", Reason: "card fraud", IsActive: true}}}
	g := NewGuard(store, "")

	err := g.AssertNotBlacklisted(context.Background(), Request{IP: "41.202.1.1"})
	pe, ok := policy.AsError(err)
	if !ok {
		t.Fatalf("expected policy error, got %v", err)
	}
	if pe.Code != policy.CodeBlacklisted {
		t.Errorf("Code = %q, want %q", pe.Code, policy.CodeBlacklisted)
	}
	types, _ := pe.Details["types"].([]string)
	if !reflect.DeepEqual(types, []string{"IP"}) {
		t.Errorf("types = %v, want [IP]", pe.Details["types"])
	}
	if pe.Details["reason"] != "card fraud" {
		t.Errorf("reason = %v, want card fraud", pe.Details["reason"])
	}
}

func TestAssertNotBlacklisted_NoMatch(t *testing.T) {
	store := &memStore{entries: []Entry{
		{Type: TypeIP, Value: "41.202.1.1", Reason: "old", IsActive: false},
		{Type: TypePhone, Value: "+237699000000", Reason: "spam", IsActive: true},
	}}
	g := NewGuard(store, "")

	tests := []struct {
		name string
		req  Request
	}{
		{"inactive entry", Request{IP: "41.202.1.1"}},
		{"different ip", Request{IP: "41.202.1.2"}},
		{"phone not normalized", Request{Phone: "237699000000"}},
		{"ip value in phone field", Request{Phone: "41.202.1.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.AssertNotBlacklisted(context.Background(), tt.req); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAssertNotBlacklisted_EmptyRequestSkipsStore(t *testing.T) {
	store := &memStore{}
	g := NewGuard(store, "")
	if err := g.AssertNotBlacklisted(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.calls != 0 {
		t.Errorf("store called %d times for an empty request", store.calls)
	}
}

func TestLookup_PrecedenceIsDeterministic(t *testing.T) {
	// Store order deliberately puts PHONE first.
	store := &memStore{entries: []Entry{
		{Type: TypePhone, Value: "699000000", Reason: "phone reason", IsActive: true},
		{Type: TypeDevice, Value: "dev-12345678", Reason: "device reason", IsActive: true},
		{Type: TypeIP, Value: "10.0.0.9", Reason: "ip reason", IsActive: true},
	}}
	g := NewGuard(store, "")

	m, err := g.Lookup(context.Background(), Request{IP: "10.0.0.9", DeviceID: "dev-12345678", Phone: "699000000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if !reflect.DeepEqual(m.Types, []string{"IP", "DEVICE", "PHONE"}) {
		t.Errorf("Types = %v, want [IP DEVICE PHONE]", m.Types)
	}
	if m.Reason != "ip reason" {
		t.Errorf("Reason = %q, want %q", m.Reason, "ip reason")
	}

	m, _ = g.Lookup(context.Background(), Request{DeviceID: "dev-12345678", Phone: "699000000"})
	if m.Reason != "device reason" {
		t.Errorf("without IP, Reason = %q, want %q", m.Reason, "device reason")
	}
}

func TestRequestCandidates(t *testing.T) {
	got := Request{Phone: "p", IP: "i"}.Candidates()
	want := []Candidate{{TypeIP, "i"}, {TypePhone, "p"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates() = %v, want %v", got, want)
	}
}

func TestAssertNotBlacklisted_StoreFailure(t *testing.T) {
	store := &memStore{err: errors.New("timeout")}

	if err := NewGuard(store, policy.FailOpen).AssertNotBlacklisted(context.Background(), Request{IP: "1.1.1.1"}); err != nil {
		t.Errorf("fail-open guard returned %v", err)
	}

	err := NewGuard(store, policy.FailClosed).AssertNotBlacklisted(context.Background(), Request{IP: "1.1.1.1"})
	if !errors.Is(err, policy.ErrStoreUnavailable) {
		t.Errorf("fail-closed err = %v, want ErrStoreUnavailable", err)
	}
	if _, ok := policy.AsError(err); ok {
		t.Error("store failure must not be reported as BLACKLISTED")
	}
}
