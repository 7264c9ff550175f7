package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jedoz/abuseguard/internal/blacklist"
	"github.com/jedoz/abuseguard/internal/captcha"
	"github.com/jedoz/abuseguard/internal/device"
	"github.com/jedoz/abuseguard/internal/duplicate"
	"github.com/jedoz/abuseguard/internal/moderation"
	"github.com/jedoz/abuseguard/internal/policy"
	"github.com/jedoz/abuseguard/internal/ratelimit"
	"github.com/jedoz/abuseguard/internal/shadowban"
)

type blacklistStore struct{ entries []blacklist.Entry }

func (s *blacklistStore) FindActive(_ context.Context, candidates []blacklist.Candidate, limit int) ([]blacklist.Entry, error) {
	var out []blacklist.Entry
	for _, e := range s.entries {
		for _, c := range candidates {
			if e.IsActive && e.Type == c.Type && e.Value == c.Value {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

type deviceStore struct {
	mu      sync.Mutex
	records map[string]device.Record
}

func (s *deviceStore) Upsert(_ context.Context, rec device.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]device.Record)
	}
	k := rec.UserID + "|" + rec.DeviceID
	if cur, ok := s.records[k]; ok {
		cur.IPLast = rec.IPLast
		cur.UpdatedAt = rec.UpdatedAt
		s.records[k] = cur
		return nil
	}
	s.records[k] = rec
	return nil
}

type fingerprintStore struct {
	mu      sync.Mutex
	records []duplicate.Fingerprint
	reads   int
}

func (s *fingerprintStore) RecentForUser(_ context.Context, userID string, since time.Time, excludeAdID string, limit int) ([]duplicate.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var out []duplicate.Fingerprint
	for _, r := range s.records {
		if r.UserID == userID && !r.CreatedAt.Before(since) && (excludeAdID == "" || r.AdID != excludeAdID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fingerprintStore) Insert(_ context.Context, fp duplicate.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, fp)
	return nil
}

type profileStore map[string]bool

func (s profileStore) IsShadowBanned(_ context.Context, userID string) (bool, error) {
	return s[userID], nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	signals []moderation.Signal
	err     error
}

func (p *recordingPublisher) PublishSignal(sig moderation.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return p.err
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, s := range p.signals {
		out = append(out, s.Kind)
	}
	return out
}

type fixture struct {
	pipeline     *Pipeline
	devices      *deviceStore
	fingerprints *fingerprintStore
	publisher    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		devices:      &deviceStore{},
		fingerprints: &fingerprintStore{},
		publisher:    &recordingPublisher{},
	}
	f.pipeline = New(Components{
		Blacklist: blacklist.NewGuard(&blacklistStore{entries: []blacklist.Entry{
			{Type: blacklist.TypeIP, Value: "203.0.113.9", Reason: "chargebacks", IsActive: true},
			{Type: blacklist.TypeDevice, Value: "banned-device-01", Reason: "fraud ring", IsActive: true},
		}}, policy.FailOpen),
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryWindow(), ratelimit.WithClock(func() time.Time { return now })),
		Presets: ratelimit.DefaultPresets().Merge(ratelimit.Presets{
			ratelimit.ScopeLogin: {WindowSeconds: 60, Max: 2},
		}),
		Devices:    device.NewLinker(f.devices),
		Scorer:     moderation.NewScorer([]string{"western union"}),
		Duplicates: duplicate.NewEnforcer(f.fingerprints, duplicate.Config{Threshold: 0.9, Action: duplicate.ActionBlock}),
		Shadowban:  shadowban.NewFilter(profileStore{"ghost": true}, shadowban.DefaultConfig()),
		Captcha:    captcha.NewGuard(true, captcha.VerifierFunc(func(_ context.Context, token, _ string) (bool, error) { return token == "good", nil }), ""),
		Publisher:  f.publisher,
	})
	return f
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	pe, ok := policy.AsError(err)
	if !ok {
		t.Fatalf("expected policy error, got %v", err)
	}
	return pe.Code
}

func TestCheckRequest_RateLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rc := RequestContext{Scope: ratelimit.ScopeLogin, IP: "198.51.100.1"}

	for i, want := range []int{1, 0} {
		res, err := f.pipeline.CheckRequest(ctx, rc)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
		if res.Remaining != want {
			t.Errorf("call %d: Remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res, err := f.pipeline.CheckRequest(ctx, rc)
	if code := codeOf(t, err); code != policy.CodeRateLimited {
		t.Errorf("Code = %q, want %q", code, policy.CodeRateLimited)
	}
	if res.Limit != 2 || res.Allowed {
		t.Errorf("rejected result = %+v", res)
	}
}

func TestCheckRequest_BlacklistRunsFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.CheckRequest(ctx, RequestContext{Scope: ratelimit.ScopeLogin, IP: "203.0.113.9", UserID: "u1", DeviceID: "device-abc-123"})
	if code := codeOf(t, err); code != policy.CodeBlacklisted {
		t.Fatalf("Code = %q, want %q", code, policy.CodeBlacklisted)
	}
	if res.Limit != 0 {
		t.Errorf("limiter ran for a blacklisted request: %+v", res)
	}
	if len(f.devices.records) != 0 {
		t.Error("device must not be linked for a blacklisted request")
	}
	if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != moderation.SignalBlacklistHit {
		t.Errorf("signals = %v, want [blacklist_hit]", kinds)
	}

	_, err = f.pipeline.CheckRequest(ctx, RequestContext{Scope: ratelimit.ScopeLogin, IP: "198.51.100.7", DeviceID: "banned-device-01"})
	if code := codeOf(t, err); code != policy.CodeBlacklisted {
		t.Errorf("device match Code = %q, want %q", code, policy.CodeBlacklisted)
	}
}

func TestCheckRequest_LinksDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pipeline.CheckRequest(ctx, RequestContext{Scope: ratelimit.ScopeDefault, IP: "10.0.0.1", UserID: "u1", DeviceID: "device-abc-123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.pipeline.CheckRequest(ctx, RequestContext{Scope: ratelimit.ScopeDefault, IP: "10.0.0.2", UserID: "u1", DeviceID: "device-abc-123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.pipeline.CheckRequest(ctx, RequestContext{Scope: ratelimit.ScopeDefault, IP: "10.0.0.3", DeviceID: "device-anon-999"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.devices.records) != 1 {
		t.Fatalf("device records = %d, want 1", len(f.devices.records))
	}
	rec := f.devices.records["u1|device-abc-123"]
	if rec.IPFirst != "10.0.0.1" || rec.IPLast != "10.0.0.2" {
		t.Errorf("ipFirst=%q ipLast=%q, want 10.0.0.1 / 10.0.0.2", rec.IPFirst, rec.IPLast)
	}
}

func TestCheckSubmission_SpamBlockSkipsDuplicateCheck(t *testing.T) {
	f := newFixture(t)

	out, err := f.pipeline.CheckSubmission(context.Background(), Submission{UserID: "u1", Title: "Pay by Western Union only"})
	if code := codeOf(t, err); code != policy.CodeSpamBlocked {
		t.Fatalf("Code = %q, want %q", code, policy.CodeSpamBlocked)
	}
	if out.SpamScore != 80 || out.SpamAction != moderation.ActionBlock {
		t.Errorf("outcome = %+v", out)
	}
	if f.fingerprints.reads != 0 {
		t.Error("duplicate check ran after a spam block")
	}
	if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != moderation.SignalSpamBlock {
		t.Errorf("signals = %v, want [spam_block]", kinds)
	}
}

func TestCheckSubmission_SpamReviewForcesPending(t *testing.T) {
	f := newFixture(t)

	// contact 10 + url 15 + free 5 + 22 digits 10 + flood 10 = 50
	sub := Submission{UserID: "u1", Title: "whatsapp free http://x.co", Description: "0123456789012345678901 aaaaaaaa"}
	out, err := f.pipeline.CheckSubmission(context.Background(), sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SpamScore != 50 || out.SpamAction != moderation.ActionReview {
		t.Errorf("spam = %d/%s, want 50/review", out.SpamScore, out.SpamAction)
	}
	if out.ForceStatus != duplicate.StatusPendingReview {
		t.Errorf("ForceStatus = %q, want %q", out.ForceStatus, duplicate.StatusPendingReview)
	}
	if kinds := f.publisher.kinds(); len(kinds) != 1 || kinds[0] != moderation.SignalSpamReview {
		t.Errorf("signals = %v, want [spam_review]", kinds)
	}
}

func TestCheckSubmission_DuplicateBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := Submission{UserID: "u1", Title: "Toyota Corolla 2012", Description: "Very clean, first owner"}

	out, err := f.pipeline.CheckSubmission(ctx, sub)
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if out.ForceStatus != "" {
		t.Errorf("first submission ForceStatus = %q", out.ForceStatus)
	}
	if err := f.pipeline.RecordSubmission(ctx, sub); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	out, err = f.pipeline.CheckSubmission(ctx, sub)
	if code := codeOf(t, err); code != policy.CodeDuplicateBlocked {
		t.Fatalf("Code = %q, want %q", code, policy.CodeDuplicateBlocked)
	}
	if out.Similarity != 1.0 {
		t.Errorf("Similarity = %v, want 1.0", out.Similarity)
	}
	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	if len(f.publisher.signals) != 1 || f.publisher.signals[0].Threshold != 0.9 {
		t.Errorf("signals = %+v, want one duplicate_block at 0.9", f.publisher.signals)
	}
}

func TestCheckSubmission_PublishFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("nats down")

	_, err := f.pipeline.CheckSubmission(context.Background(), Submission{UserID: "u1", Title: "western union"})
	if code := codeOf(t, err); code != policy.CodeSpamBlocked {
		t.Errorf("Code = %q, want %q", code, policy.CodeSpamBlocked)
	}
}

func TestPipeline_ShadowbanAndCaptcha(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if banned, _ := f.pipeline.IsShadowBanned(ctx, "ghost"); !banned {
		t.Error("ghost should be shadow-banned")
	}
	if banned, _ := f.pipeline.IsShadowBanned(ctx, "u1"); banned {
		t.Error("u1 should not be shadow-banned")
	}
	if !f.pipeline.PublicVisibilityFilter().Active {
		t.Error("visibility filter should be active by default")
	}

	if err := f.pipeline.RequireCaptcha(ctx, "good", "1.1.1.1"); err != nil {
		t.Errorf("good token rejected: %v", err)
	}
	if code := codeOf(t, f.pipeline.RequireCaptcha(ctx, "", "1.1.1.1")); code != policy.CodeCaptchaRequired {
		t.Errorf("Code = %q, want %q", code, policy.CodeCaptchaRequired)
	}
	if code := codeOf(t, f.pipeline.RequireCaptcha(ctx, "bad", "1.1.1.1")); code != policy.CodeCaptchaInvalid {
		t.Errorf("Code = %q, want %q", code, policy.CodeCaptchaInvalid)
	}
}

func TestPipeline_EmptyComponents(t *testing.T) {
	p := New(Components{})
	ctx := context.Background()

	if _, err := p.CheckRequest(ctx, RequestContext{Scope: "x", IP: "1.1.1.1"}); err != nil {
		t.Errorf("CheckRequest: %v", err)
	}
	if _, err := p.CheckSubmission(ctx, Submission{Title: "anything"}); err != nil {
		t.Errorf("CheckSubmission: %v", err)
	}
	if err := p.RequireCaptcha(ctx, "", ""); err != nil {
		t.Errorf("RequireCaptcha: %v", err)
	}
	if p.PublicVisibilityFilter().Active {
		t.Error("no shadow-ban filter must mean a no-op fragment")
	}
}
