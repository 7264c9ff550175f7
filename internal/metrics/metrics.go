// Package metrics provides Prometheus instrumentation for the abuse guards.
// It exposes counters for guard decisions and store failures, and histograms
// for spam scores and duplicate similarity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Guard names used as the "guard" label.
const (
	GuardRateLimit = "ratelimit"
	GuardBlacklist = "blacklist"
	GuardSpam      = "spam"
	GuardDuplicate = "duplicate"
	GuardShadowban = "shadowban"
	GuardDevice    = "device"
	GuardCaptcha   = "captcha"
)

// Decision outcomes used as the "outcome" label.
const (
	OutcomeAllowed  = "allowed"
	OutcomeBlocked  = "blocked"
	OutcomeReview   = "review"
	OutcomeDegraded = "degraded" // store failed, policy allowed the request
)

// Signal results used as the "result" label.
const (
	SignalPublished = "published"
	SignalFailed    = "failed"
	SignalReceived  = "received"
)

var (
	// Decisions counts guard decisions, labeled by guard and outcome.
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "abuseguard_decisions_total",
		Help: "Total number of guard decisions",
	}, []string{"guard", "outcome"})

	// StoreErrors counts shared-store or database failures per component.
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "abuseguard_store_errors_total",
		Help: "Total number of store failures seen by guards",
	}, []string{"component"})

	// Signals counts moderation signals, labeled by kind and result.
	Signals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "abuseguard_signals_total",
		Help: "Total number of moderation signals published or received",
	}, []string{"kind", "result"})

	// SpamScore records the distribution of submission spam scores.
	SpamScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "abuseguard_spam_score",
		Help:    "Spam score of checked submissions",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// DuplicateSimilarity records the best similarity found per submission.
	DuplicateSimilarity = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "abuseguard_duplicate_similarity",
		Help:    "Best trigram similarity against the submitter's recent fingerprints",
		Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, .92, .95, 1},
	})
)

func init() {
	prometheus.MustRegister(
		Decisions,
		StoreErrors,
		Signals,
		SpamScore,
		DuplicateSimilarity,
	)
}

// Decision records one guard decision.
func Decision(guard, outcome string) {
	Decisions.WithLabelValues(guard, outcome).Inc()
}

// StoreError records one store failure for component.
func StoreError(component string) {
	StoreErrors.WithLabelValues(component).Inc()
}

// Signal records one moderation signal event.
func Signal(kind, result string) {
	Signals.WithLabelValues(kind, result).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
