// Package captcha decides whether a request carrying a captcha token may
// proceed. The provider call itself sits behind Verifier.
package captcha

import (
	"context"
	"log"

	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/policy"
)

// Verifier checks a token with the captcha provider.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token, remoteIP string) (bool, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	return f(ctx, token, remoteIP)
}

// Guard enforces captcha on the routes it is mounted on.
type Guard struct {
	enabled  bool
	verifier Verifier
	onError  policy.FailurePolicy
}

// NewGuard creates a Guard. A disabled guard lets everything through. When
// the verifier errors, onError decides; it defaults to policy.FailClosed.
func NewGuard(enabled bool, verifier Verifier, onError policy.FailurePolicy) *Guard {
	if onError == "" {
		onError = policy.FailClosed
	}
	return &Guard{enabled: enabled, verifier: verifier, onError: onError}
}

// Enabled reports whether the guard checks tokens.
func (g *Guard) Enabled() bool {
	return g.enabled
}

// Check returns CAPTCHA_REQUIRED for a missing token and CAPTCHA_INVALID for
// a rejected one.
func (g *Guard) Check(ctx context.Context, token, remoteIP string) error {
	if !g.enabled {
		return nil
	}
	if token == "" {
		metrics.Decision(metrics.GuardCaptcha, metrics.OutcomeBlocked)
		return policy.CaptchaRequired()
	}

	ok, err := g.verifier.Verify(ctx, token, remoteIP)
	if err != nil {
		metrics.StoreError(metrics.GuardCaptcha)
		if g.onError == policy.FailOpen {
			log.Printf("[captcha] verify failed ip=%s: %v (failing open)", remoteIP, err)
			metrics.Decision(metrics.GuardCaptcha, metrics.OutcomeDegraded)
			return nil
		}
		log.Printf("[captcha] verify failed ip=%s: %v", remoteIP, err)
		metrics.Decision(metrics.GuardCaptcha, metrics.OutcomeBlocked)
		return policy.CaptchaInvalid()
	}
	if !ok {
		metrics.Decision(metrics.GuardCaptcha, metrics.OutcomeBlocked)
		return policy.CaptchaInvalid()
	}
	metrics.Decision(metrics.GuardCaptcha, metrics.OutcomeAllowed)
	return nil
}
