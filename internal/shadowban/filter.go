// Package shadowban hides shadow-banned users' listings from public queries
// without telling them. It offers a point lookup and a query fragment the
// caller splices into its own listing query.
package shadowban

import (
	"context"
	"log"

	"github.com/jedoz/abuseguard/internal/metrics"
	"github.com/jedoz/abuseguard/internal/policy"
)

// Profile is the per-user security profile. It is written by moderation
// actions elsewhere; this package only reads it.
type Profile struct {
	UserID         string
	IsShadowBanned bool
	ShadowReason   string
}

// Store reads security profiles.
type Store interface {
	// IsShadowBanned reports the flag for userID; a missing profile is false.
	IsShadowBanned(ctx context.Context, userID string) (bool, error)
}

// Fragment is a visibility predicate for public listing queries.
type Fragment struct {
	// Active is false when hiding is disabled and the fragment is a no-op.
	Active bool
	// SQL is a boolean SQL expression over the listing owner column. It is
	// "TRUE" when the fragment is a no-op.
	SQL string
}

// Visible evaluates the fragment in memory for a listing whose owner has the
// given shadow-ban flag.
func (f Fragment) Visible(ownerShadowBanned bool) bool {
	return !f.Active || !ownerShadowBanned
}

// Config controls the filter.
type Config struct {
	HideFromPublic bool
	// OwnerColumn is the listing owner column the SQL fragment references.
	OwnerColumn string
	// ProfileTable is the security profile table name.
	ProfileTable string
	OnStoreError policy.FailurePolicy
}

// DefaultConfig hides shadow-banned users, references listings.user_id and
// fails open.
func DefaultConfig() Config {
	return Config{
		HideFromPublic: true,
		OwnerColumn:    "listings.user_id",
		ProfileTable:   "user_security_profiles",
		OnStoreError:   policy.FailOpen,
	}
}

// Filter answers shadow-ban questions.
type Filter struct {
	store Store
	cfg   Config
}

// NewFilter creates a Filter. Empty column, table and policy fields take
// their defaults.
func NewFilter(store Store, cfg Config) *Filter {
	def := DefaultConfig()
	if cfg.OwnerColumn == "" {
		cfg.OwnerColumn = def.OwnerColumn
	}
	if cfg.ProfileTable == "" {
		cfg.ProfileTable = def.ProfileTable
	}
	if cfg.OnStoreError == "" {
		cfg.OnStoreError = def.OnStoreError
	}
	return &Filter{store: store, cfg: cfg}
}

// IsShadowBanned looks up userID. Users without a profile are not banned.
// With a fail-open policy a store error reads as "not banned".
func (f *Filter) IsShadowBanned(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	banned, err := f.store.IsShadowBanned(ctx, userID)
	if err != nil {
		metrics.StoreError(metrics.GuardShadowban)
		if f.cfg.OnStoreError == policy.FailClosed {
			return false, policy.Unavailable("shadowban", err)
		}
		log.Printf("[shadowban] profile lookup failed user=%s: %v (failing open)", userID, err)
		return false, nil
	}
	return banned, nil
}

// PublicVisibilityFilter returns the predicate public listing queries must
// apply. It has no side effects.
func (f *Filter) PublicVisibilityFilter() Fragment {
	if !f.cfg.HideFromPublic {
		return Fragment{Active: false, SQL: "TRUE"}
	}
	return Fragment{
		Active: true,
		SQL: "NOT EXISTS (SELECT 1 FROM " + f.cfg.ProfileTable + " usp" +
			" WHERE usp.user_id = " + f.cfg.OwnerColumn + " AND usp.is_shadow_banned = TRUE)",
	}
}
