package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jedoz/abuseguard/internal/policy"
)

// Request headers read by the middleware.
const (
	DefaultDeviceHeader = "x-device-id"
	HeaderUserID        = "X-User-Id"
	HeaderCaptchaToken  = "X-Captcha-Token"
	HeaderForwardedFor  = "X-Forwarded-For"
)

// MaxUserAgentLength caps the stored user agent, in runes.
const MaxUserAgentLength = 512

// Error codes for failures that are not policy rejections.
const (
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInternal         = "INTERNAL"
)

type ctxKey struct{}

// FromContext returns the RequestContext the middleware stored for the
// downstream handler.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// Middleware runs CheckRequest for scope on every request. It sets the
// X-RateLimit-* headers and answers rejections itself; accepted requests
// reach next with the RequestContext in their context.
func (p *Pipeline) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := p.RequestContextFrom(r, scope)

			res, err := p.CheckRequest(r.Context(), rc)
			if res.Limit > 0 {
				for k, v := range res.Headers() {
					w.Header().Set(k, v)
				}
			}
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, rc)))
		})
	}
}

// CaptchaMiddleware requires a valid token in the X-Captcha-Token header.
func (p *Pipeline) CaptchaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _ := p.ClientIP(r)
		if err := p.RequireCaptcha(r.Context(), r.Header.Get(HeaderCaptchaToken), ip); err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestContextFrom extracts the caller attributes from r.
func (p *Pipeline) RequestContextFrom(r *http.Request, scope string) RequestContext {
	ip, _ := p.ClientIP(r)
	return RequestContext{
		Scope:     scope,
		IP:        ip,
		UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
		DeviceID:  strings.TrimSpace(r.Header.Get(p.c.DeviceHeader)),
		UserAgent: truncateUserAgent(r.UserAgent()),
	}
}

// ClientIP resolves the caller IP of r against the pipeline's trusted proxies.
func (p *Pipeline) ClientIP(r *http.Request) (string, bool) {
	return ClientIP(r, p.c.TrustedProxies)
}

// ClientIP returns the caller IP of r in canonical form. X-Forwarded-For is
// only read when the direct peer is in trusted; the hops are then walked
// right to left and the first one outside trusted is the caller. The boolean
// is false when RemoteAddr did not parse as an IP; the raw value is returned
// then.
func ClientIP(r *http.Request, trusted []netip.Prefix) (string, bool) {
	peer, ok := normalizeIP(r.RemoteAddr)
	if !ok || !isTrusted(peer, trusted) {
		return peer, ok
	}

	var hops []string
	for _, v := range r.Header.Values(HeaderForwardedFor) {
		hops = append(hops, strings.Split(v, ",")...)
	}

	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := normalizeIP(hops[i])
		if !ok {
			break
		}
		client = ip
		if !isTrusted(ip, trusted) {
			break
		}
	}
	return client, true
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or single IPs.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("guard: trusted proxy %q: %w", part, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("guard: trusted proxy %q: %w", part, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func normalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().WithZone("").Unmap().String(), true
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.WithZone("").Unmap().String(), true
	}
	return raw, false
}

func truncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	runes := []rune(ua)
	return string(runes[:MaxUserAgentLength])
}

// errorBody is the JSON shape of every rejection.
type errorBody struct {
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError answers err: policy rejections with their status and payload
// (plus Retry-After on RATE_LIMITED), store failures with 503 and anything
// else with 500.
func WriteError(w http.ResponseWriter, err error) {
	if pe, ok := policy.AsError(err); ok {
		if pe.Code == policy.CodeRateLimited {
			if secs, ok := pe.Details["retryAfterSeconds"].(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		writeJSON(w, pe.Status, errorBody{Code: pe.Code, Details: pe.Details})
		return
	}
	if errors.Is(err, policy.ErrStoreUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: CodeStoreUnavailable})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Code: CodeInternal})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
