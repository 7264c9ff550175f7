// Package policy defines the rejection taxonomy shared by every guard: typed
// policy errors carrying a stable code and payload, the store-unavailable
// condition, and the per-component fail-open/fail-closed switch.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stable error codes clients can branch on.
const (
	CodeRateLimited      = "RATE_LIMITED"
	CodeBlacklisted      = "BLACKLISTED"
	CodeDuplicateBlocked = "DUPLICATE_BLOCKED"
	CodeSpamBlocked      = "SPAM_BLOCKED"
	CodeCaptchaRequired  = "CAPTCHA_REQUIRED"
	CodeCaptchaInvalid   = "CAPTCHA_INVALID"
)

// ErrStoreUnavailable marks infrastructure failures (shared store or database
// unreachable, timeouts). Components wrap store errors with it so callers can
// tell them apart from policy rejections.
var ErrStoreUnavailable = errors.New("store unavailable")

// Error is a terminal policy rejection. Status is the HTTP status the
// integrator should answer with; Details is the JSON payload.
type Error struct {
	Code    string         `json:"code"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return "policy: " + e.Code
	}
	return fmt.Sprintf("policy: %s %v", e.Code, e.Details)
}

// RateLimited builds a RATE_LIMITED rejection.
func RateLimited(scope string, retryAfterSeconds int) *Error {
	return &Error{
		Code:   CodeRateLimited,
		Status: http.StatusTooManyRequests,
		Details: map[string]any{
			"scope":             scope,
			"retryAfterSeconds": retryAfterSeconds,
		},
	}
}

// Blacklisted builds a BLACKLISTED rejection.
func Blacklisted(types []string, reason string) *Error {
	return &Error{
		Code:   CodeBlacklisted,
		Status: http.StatusForbidden,
		Details: map[string]any{
			"types":  types,
			"reason": reason,
		},
	}
}

// DuplicateBlocked builds a DUPLICATE_BLOCKED rejection.
func DuplicateBlocked(similarity, threshold float64) *Error {
	return &Error{
		Code:   CodeDuplicateBlocked,
		Status: http.StatusBadRequest,
		Details: map[string]any{
			"similarity": similarity,
			"threshold":  threshold,
		},
	}
}

// SpamBlocked builds a SPAM_BLOCKED rejection.
func SpamBlocked(score int) *Error {
	return &Error{
		Code:    CodeSpamBlocked,
		Status:  http.StatusBadRequest,
		Details: map[string]any{"score": score},
	}
}

// CaptchaRequired builds a CAPTCHA_REQUIRED rejection.
func CaptchaRequired() *Error {
	return &Error{Code: CodeCaptchaRequired, Status: http.StatusBadRequest}
}

// CaptchaInvalid builds a CAPTCHA_INVALID rejection.
func CaptchaInvalid() *Error {
	return &Error{Code: CodeCaptchaInvalid, Status: http.StatusBadRequest}
}

// AsError reports whether err is (or wraps) a policy rejection.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Unavailable wraps a store error so errors.Is(err, ErrStoreUnavailable) holds.
func Unavailable(component string, err error) error {
	return fmt.Errorf("%s: %w: %w", component, ErrStoreUnavailable, err)
}

// FailurePolicy decides what a component does when its store is unavailable.
type FailurePolicy string

const (
	// FailOpen allows the request and logs the store error.
	FailOpen FailurePolicy = "allow"
	// FailClosed surfaces the store error to the caller.
	FailClosed FailurePolicy = "deny"
)

// ParseFailurePolicy parses "allow" or "deny" (case-insensitive). Anything
// else returns def and false.
func ParseFailurePolicy(raw string, def FailurePolicy) (FailurePolicy, bool) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case FailOpen:
		return FailOpen, true
	case FailClosed:
		return FailClosed, true
	}
	return def, false
}
