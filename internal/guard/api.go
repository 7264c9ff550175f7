package guard

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds JSON request bodies on the check API.
const maxBodyBytes = 64 << 10

type checkRequestBody struct {
	Scope     string `json:"scope"`
	IP        string `json:"ip"`
	UserID    string `json:"userId"`
	DeviceID  string `json:"deviceId"`
	Phone     string `json:"phone"`
	UserAgent string `json:"userAgent"`
}

type checkRequestResponse struct {
	Allowed   bool  `json:"allowed"`
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"resetAt"`
	Degraded  bool  `json:"degraded,omitempty"`
}

type submissionBody struct {
	UserID      string `json:"userId"`
	AdID        string `json:"adId"`
	IP          string `json:"ip"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Phone       string `json:"phone"`
}

func (b submissionBody) submission() Submission {
	return Submission{
		UserID:      b.UserID,
		AdID:        b.AdID,
		IP:          b.IP,
		Title:       b.Title,
		Description: b.Description,
		Phone:       b.Phone,
	}
}

type submissionResponse struct {
	SpamScore   int     `json:"spamScore"`
	SpamAction  string  `json:"spamAction,omitempty"`
	Similarity  float64 `json:"similarity"`
	ForceStatus string  `json:"forceStatus,omitempty"`
}

type captchaBody struct {
	Token string `json:"token"`
	IP    string `json:"ip"`
}

// Routes returns the check API for services that call the guards over HTTP
// instead of embedding them:
//
//	POST /check/request        blacklist + rate limit + device link
//	POST /check/submission     spam + duplicate checks
//	POST /fingerprints         record an accepted submission
//	POST /captcha/verify       captcha decision
//	GET  /shadowban/{userID}   shadow-ban lookup
//	GET  /visibility-filter    public listing predicate
//	GET  /forward-auth/{scope} request checks on the caller itself, for proxy auth subrequests
func (p *Pipeline) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/check/request", p.handleCheckRequest)
	r.Post("/check/submission", p.handleCheckSubmission)
	r.Post("/fingerprints", p.handleRecordSubmission)
	r.Post("/captcha/verify", p.handleCaptcha)
	r.Get("/shadowban/{userID}", p.handleShadowban)
	r.Get("/visibility-filter", p.handleVisibilityFilter)
	r.Get("/forward-auth/{scope}", p.handleForwardAuth)

	return r
}

func (p *Pipeline) handleCheckRequest(w http.ResponseWriter, r *http.Request) {
	var body checkRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Scope == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Details: map[string]any{"field": "scope"}})
		return
	}

	res, err := p.CheckRequest(r.Context(), RequestContext{
		Scope:     body.Scope,
		IP:        body.IP,
		UserID:    body.UserID,
		DeviceID:  body.DeviceID,
		Phone:     body.Phone,
		UserAgent: truncateUserAgent(body.UserAgent),
	})
	if res.Limit > 0 {
		for k, v := range res.Headers() {
			w.Header().Set(k, v)
		}
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkRequestResponse{
		Allowed:   true,
		Limit:     res.Limit,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
		Degraded:  res.Degraded,
	})
}

func (p *Pipeline) handleCheckSubmission(w http.ResponseWriter, r *http.Request) {
	var body submissionBody
	if !decodeBody(w, r, &body) {
		return
	}
	out, err := p.CheckSubmission(r.Context(), body.submission())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse{
		SpamScore:   out.SpamScore,
		SpamAction:  string(out.SpamAction),
		Similarity:  out.Similarity,
		ForceStatus: out.ForceStatus,
	})
}

func (p *Pipeline) handleRecordSubmission(w http.ResponseWriter, r *http.Request) {
	var body submissionBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Details: map[string]any{"field": "userId"}})
		return
	}
	if err := p.RecordSubmission(r.Context(), body.submission()); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Pipeline) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	var body captchaBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := p.RequireCaptcha(r.Context(), body.Token, body.IP); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Pipeline) handleShadowban(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	banned, err := p.IsShadowBanned(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "shadowBanned": banned})
}

func (p *Pipeline) handleVisibilityFilter(w http.ResponseWriter, _ *http.Request) {
	f := p.PublicVisibilityFilter()
	writeJSON(w, http.StatusOK, map[string]any{"active": f.Active, "sql": f.SQL})
}

// handleForwardAuth only accepts configured scopes so callers cannot mint
// arbitrary limiter keys.
func (p *Pipeline) handleForwardAuth(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	if _, ok := p.c.Presets[scope]; !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "UNKNOWN_SCOPE", Details: map[string]any{"scope": scope}})
		return
	}
	p.Middleware(scope)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST"})
		return false
	}
	return true
}
