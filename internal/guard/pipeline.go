// Package guard runs the abuse checks in request order: blacklist and rate
// limit on every guarded request, then spam and duplicate checks on content
// submissions. Device linking runs best-effort for authenticated callers and
// the shadow-ban filter is exposed for public listing reads.
package guard

import (
	"context"
	"log"
	"net/netip"
	"time"

	"github.com/jedoz/abuseguard/internal/blacklist"
	"github.com/jedoz/abuseguard/internal/captcha"
	"github.com/jedoz/abuseguard/internal/device"
	"github.com/jedoz/abuseguard/internal/duplicate"
	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/moderation"
	"github.com/jedoz/abuseguard/internal/policy"
	"github.com/jedoz/abuseguard/internal/ratelimit"
	"github.com/jedoz/abuseguard/internal/shadowban"
)

// Publisher hands moderation signals to the review workflow.
type Publisher interface {
	PublishSignal(sig moderation.Signal) error
}

// Components are the guards a Pipeline runs. Nil guards are skipped.
type Components struct {
	Blacklist  *blacklist.Guard
	Limiter    *ratelimit.Limiter
	Presets    ratelimit.Presets
	Devices    *device.Linker
	Scorer     *moderation.Scorer
	Thresholds moderation.Thresholds
	Duplicates *duplicate.Enforcer
	Shadowban  *shadowban.Filter
	Captcha    *captcha.Guard
	Publisher  Publisher

	// DeviceHeader is the request header carrying the device id.
	DeviceHeader string

	// TrustedProxies are the peers allowed to set X-Forwarded-For. Without
	// any, the caller IP is always the connection's remote address.
	TrustedProxies []netip.Prefix
}

// Pipeline orchestrates the guards.
type Pipeline struct {
	c   Components
	now func() time.Time
}

// New creates a Pipeline. Missing presets and thresholds take their defaults.
func New(c Components) *Pipeline {
	if c.Presets == nil {
		c.Presets = ratelimit.DefaultPresets()
	}
	if c.Thresholds == (moderation.Thresholds{}) {
		c.Thresholds = moderation.DefaultThresholds()
	}
	if c.DeviceHeader == "" {
		c.DeviceHeader = DefaultDeviceHeader
	}
	return &Pipeline{c: c, now: time.Now}
}

// RequestContext is what the request-level checks need from a request.
type RequestContext struct {
	Scope     string
	IP        string
	UserID    string
	DeviceID  string
	Phone     string
	UserAgent string
}

// CheckRequest runs the blacklist and the rate limit for rc and then links
// the device when the caller is authenticated. The returned Result is valid
// whenever the limiter ran, including on RATE_LIMITED.
func (p *Pipeline) CheckRequest(ctx context.Context, rc RequestContext) (ratelimit.Result, error) {
	if p.c.Blacklist != nil {
		err := p.c.Blacklist.AssertNotBlacklisted(ctx, blacklist.Request{
			IP:       rc.IP,
			DeviceID: rc.DeviceID,
			Phone:    rc.Phone,
		})
		if err != nil {
			if pe, ok := policy.AsError(err); ok {
				types, _ := pe.Details["types"].([]string)
				reason, _ := pe.Details["reason"].(string)
				p.publish(moderation.Signal{
					Kind:   moderation.SignalBlacklistHit,
					UserID: rc.UserID,
					IP:     rc.IP,
					Types:  types,
					Reason: reason,
				})
			}
			return ratelimit.Result{}, err
		}
	}

	var res ratelimit.Result
	if p.c.Limiter != nil {
		var err error
		res, err = p.c.Limiter.Enforce(ctx, rc.Scope, ratelimit.Identity{IP: rc.IP, UserID: rc.UserID}, p.c.Presets.For(rc.Scope))
		if err != nil {
			return res, err
		}
	}

	if p.c.Devices != nil && rc.UserID != "" {
		p.c.Devices.LinkDevice(ctx, device.Request{
			UserID:    rc.UserID,
			DeviceID:  rc.DeviceID,
			IP:        rc.IP,
			UserAgent: rc.UserAgent,
		})
	}
	return res, nil
}

// Submission is a listing create or update.
type Submission struct {
	UserID      string
	AdID        string
	IP          string
	Title       string
	Description string
	Phone       string
}

// Outcome is the result of the content checks. ForceStatus is
// duplicate.StatusPendingReview when either check asked for review.
type Outcome struct {
	SpamScore   int
	SpamAction  moderation.Action
	Similarity  float64
	ForceStatus string
}

// CheckSubmission scores sub for spam and compares it with the user's recent
// listings. Blocks are returned as policy errors; review requests come back
// as Outcome.ForceStatus.
func (p *Pipeline) CheckSubmission(ctx context.Context, sub Submission) (Outcome, error) {
	var out Outcome

	if p.c.Scorer != nil {
		score := p.c.Scorer.Score(moderation.Submission{
			Title:       sub.Title,
			Description: sub.Description,
			Phone:       sub.Phone,
		})
		metrics.SpamScore.Observe(float64(score))
		verdict := p.c.Thresholds.Evaluate(score)
		out.SpamScore = verdict.Score
		out.SpamAction = verdict.Action

		switch verdict.Action {
		case moderation.ActionBlock:
			metrics.Decision(metrics.GuardSpam, metrics.OutcomeBlocked)
			p.publish(moderation.Signal{Kind: moderation.SignalSpamBlock, UserID: sub.UserID, AdID: sub.AdID, IP: sub.IP, Score: score})
			return out, verdict.Err()
		case moderation.ActionReview:
			metrics.Decision(metrics.GuardSpam, metrics.OutcomeReview)
			out.ForceStatus = duplicate.StatusPendingReview
			p.publish(moderation.Signal{Kind: moderation.SignalSpamReview, UserID: sub.UserID, AdID: sub.AdID, IP: sub.IP, Score: score})
		default:
			metrics.Decision(metrics.GuardSpam, metrics.OutcomeAllowed)
		}
	}

	if p.c.Duplicates != nil {
		res, err := p.c.Duplicates.Enforce(ctx, duplicate.Input{
			UserID:      sub.UserID,
			AdID:        sub.AdID,
			Title:       sub.Title,
			Description: sub.Description,
		})
		out.Similarity = res.Similarity
		if err != nil {
			if _, ok := policy.AsError(err); ok {
				p.publish(moderation.Signal{
					Kind:       moderation.SignalDuplicateBlock,
					UserID:     sub.UserID,
					AdID:       sub.AdID,
					IP:         sub.IP,
					Similarity: res.Similarity,
					Threshold:  p.c.Duplicates.Config().Threshold,
				})
			}
			return out, err
		}
		if res.ForceStatus != "" {
			out.ForceStatus = res.ForceStatus
			p.publish(moderation.Signal{
				Kind:       moderation.SignalDuplicateReview,
				UserID:     sub.UserID,
				AdID:       sub.AdID,
				IP:         sub.IP,
				Similarity: res.Similarity,
				Threshold:  p.c.Duplicates.Config().Threshold,
			})
		}
	}

	return out, nil
}

// RecordSubmission stores the fingerprint of an accepted submission so later
// submissions are compared with it.
func (p *Pipeline) RecordSubmission(ctx context.Context, sub Submission) error {
	if p.c.Duplicates == nil {
		return nil
	}
	return p.c.Duplicates.Record(ctx, duplicate.Input{
		UserID:      sub.UserID,
		AdID:        sub.AdID,
		Title:       sub.Title,
		Description: sub.Description,
	})
}

// RequireCaptcha checks a captcha token. Without a captcha guard every
// request passes.
func (p *Pipeline) RequireCaptcha(ctx context.Context, token, remoteIP string) error {
	if p.c.Captcha == nil {
		return nil
	}
	return p.c.Captcha.Check(ctx, token, remoteIP)
}

// IsShadowBanned reports whether userID is shadow-banned.
func (p *Pipeline) IsShadowBanned(ctx context.Context, userID string) (bool, error) {
	if p.c.Shadowban == nil {
		return false, nil
	}
	return p.c.Shadowban.IsShadowBanned(ctx, userID)
}

// PublicVisibilityFilter returns the listing visibility predicate. Without a
// shadow-ban filter it is a no-op.
func (p *Pipeline) PublicVisibilityFilter() shadowban.Fragment {
	if p.c.Shadowban == nil {
		return shadowban.Fragment{SQL: "TRUE"}
	}
	return p.c.Shadowban.PublicVisibilityFilter()
}

// publish sends sig without failing the request.
func (p *Pipeline) publish(sig moderation.Signal) {
	if p.c.Publisher == nil {
		return
	}
	if sig.Ts == 0 {
		sig.Ts = p.now().UnixMilli()
	}
	if err := p.c.Publisher.PublishSignal(sig); err != nil {
		metrics.Signal(sig.Kind, metrics.SignalFailed)
		log.Printf("[guard] publish %s signal failed: %v", sig.Kind, err)
		return
	}
	metrics.Signal(sig.Kind, metrics.SignalPublished)
}
