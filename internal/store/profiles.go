package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ProfileRepository reads user_security_profiles.
type ProfileRepository struct {
	db *sql.DB
}

// NewProfileRepository creates a repository backed by db.
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// IsShadowBanned returns the user's shadow-ban flag. Users without a profile
// row are not banned.
func (r *ProfileRepository) IsShadowBanned(ctx context.Context, userID string) (bool, error) {
	var banned bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_shadow_banned FROM user_security_profiles WHERE user_id = $1`,
		userID,
	).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: profile lookup: %w", err)
	}
	return banned, nil
}
