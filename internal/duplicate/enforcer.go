// Package duplicate detects near-duplicate listing submissions by comparing
// the normalized text of a new submission with the same user's recent
// fingerprints, and applies the configured policy when the best match crosses
// the similarity threshold.
//
// The check is read-then-decide. Two near-simultaneous submissions from one
// user can both pass because neither sees the other's fingerprint yet; the
// duplicate is left for moderation to catch.
package duplicate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/policy"
	"github.com/jedoz/abuseguard/internal/similarity"
	"github.com/jedoz/abuseguard/internal/textnorm"
)

// StatusPendingReview is the forced listing status for soft overrides.
const StatusPendingReview = "PENDING_REVIEW"

// Defaults.
const (
	DefaultThreshold     = 0.92
	DefaultLookback      = 14 * 24 * time.Hour
	DefaultMaxCandidates = 50
)

// Action is the policy applied when a duplicate is detected.
type Action string

const (
	ActionBlock  Action = "BLOCK"
	ActionReview Action = "REVIEW"
	ActionAllow  Action = "ALLOW"
)

// ParseAction parses BLOCK, REVIEW or ALLOW (case-insensitive).
func ParseAction(raw string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(raw))); a {
	case ActionBlock, ActionReview, ActionAllow:
		return a, nil
	}
	return "", fmt.Errorf("duplicate: unknown action %q", raw)
}

// Fingerprint is the normalized text of one past submission. Fingerprints
// are never mutated.
type Fingerprint struct {
	ID             string
	UserID         string
	AdID           string // empty when the listing had no id yet
	NormalizedText string
	CreatedAt      time.Time
}

// Store is the fingerprint persistence the enforcer needs.
type Store interface {
	// RecentForUser returns the user's fingerprints created at or after since,
	// newest first, skipping excludeAdID when it is not empty, at most limit.
	RecentForUser(ctx context.Context, userID string, since time.Time, excludeAdID string, limit int) ([]Fingerprint, error)
	// Insert persists a new fingerprint.
	Insert(ctx context.Context, fp Fingerprint) error
}

// Config holds the enforcer policy.
type Config struct {
	Threshold     float64
	Action        Action
	Lookback      time.Duration
	MaxCandidates int
	OnStoreError  policy.FailurePolicy
}

// DefaultConfig returns threshold 0.92, action REVIEW, 14 days, 50 candidates,
// fail open.
func DefaultConfig() Config {
	return Config{
		Threshold:     DefaultThreshold,
		Action:        ActionReview,
		Lookback:      DefaultLookback,
		MaxCandidates: DefaultMaxCandidates,
		OnStoreError:  policy.FailOpen,
	}
}

// Input is one listing submission.
type Input struct {
	UserID      string
	AdID        string // set when updating an existing listing
	Title       string
	Description string
}

// Result is the enforcer's decision. ForceStatus is StatusPendingReview when
// the submission must go to review instead of going live.
type Result struct {
	Similarity  float64
	ForceStatus string
}

// Enforcer applies the duplicate policy.
type Enforcer struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewEnforcer creates an Enforcer. Zero-valued config fields take their
// defaults.
func NewEnforcer(store Store, cfg Config) *Enforcer {
	def := DefaultConfig()
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Action == "" {
		cfg.Action = def.Action
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.OnStoreError == "" {
		cfg.OnStoreError = def.OnStoreError
	}
	return &Enforcer{store: store, cfg: cfg, now: time.Now}
}

// Config returns the effective configuration.
func (e *Enforcer) Config() Config {
	return e.cfg
}

// Enforce compares in with the user's recent fingerprints. With action BLOCK
// a match at or above the threshold returns a DUPLICATE_BLOCKED policy error.
func (e *Enforcer) Enforce(ctx context.Context, in Input) (Result, error) {
	if in.UserID == "" {
		return Result{}, nil
	}

	current := textnorm.Join(in.Title, in.Description)
	since := e.now().Add(-e.cfg.Lookback)

	records, err := e.store.RecentForUser(ctx, in.UserID, since, in.AdID, e.cfg.MaxCandidates)
	if err != nil {
		metrics.StoreError(metrics.GuardDuplicate)
		if e.cfg.OnStoreError == policy.FailClosed {
			return Result{}, policy.Unavailable("duplicate", err)
		}
		log.Printf("[duplicate] fingerprint lookup failed user=%s: %v (failing open)", in.UserID, err)
		metrics.Decision(metrics.GuardDuplicate, metrics.OutcomeDegraded)
		return Result{}, nil
	}

	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.NormalizedText)
	}
	best := similarity.Best(current, texts)
	metrics.DuplicateSimilarity.Observe(best)

	if len(records) == 0 || best < e.cfg.Threshold {
		metrics.Decision(metrics.GuardDuplicate, metrics.OutcomeAllowed)
		return Result{Similarity: best}, nil
	}

	switch e.cfg.Action {
	case ActionBlock:
		metrics.Decision(metrics.GuardDuplicate, metrics.OutcomeBlocked)
		return Result{Similarity: best}, policy.DuplicateBlocked(best, e.cfg.Threshold)
	case ActionReview:
		metrics.Decision(metrics.GuardDuplicate, metrics.OutcomeReview)
		return Result{Similarity: best, ForceStatus: StatusPendingReview}, nil
	}
	metrics.Decision(metrics.GuardDuplicate, metrics.OutcomeAllowed)
	return Result{Similarity: best}, nil
}

// Record stores the fingerprint of an accepted create or update.
func (e *Enforcer) Record(ctx context.Context, in Input) error {
	if in.UserID == "" {
		return fmt.Errorf("duplicate: record: missing user id")
	}
	fp := Fingerprint{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		AdID:           in.AdID,
		NormalizedText: textnorm.Join(in.Title, in.Description),
		CreatedAt:      e.now().UTC(),
	}
	if err := e.store.Insert(ctx, fp); err != nil {
		metrics.StoreError(metrics.GuardDuplicate)
		return policy.Unavailable("duplicate", err)
	}
	return nil
}
