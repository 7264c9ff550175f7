package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jedoz/abuseguard/internal/duplicate"
)

// MinRetention is the shortest fingerprint retention Prune will apply.
const MinRetention = 14 * 24 * time.Hour

// FingerprintRepository stores listing fingerprints in ad_fingerprints.
type FingerprintRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewFingerprintRepository creates a repository backed by db.
func NewFingerprintRepository(db *sql.DB) *FingerprintRepository {
	return &FingerprintRepository{db: db, now: time.Now}
}

// RecentForUser returns the user's fingerprints created at or after since,
// newest first. Rows for excludeAdID are skipped when it is not empty.
func (r *FingerprintRepository) RecentForUser(ctx context.Context, userID string, since time.Time, excludeAdID string, limit int) ([]duplicate.Fingerprint, error) {
	const query = `
		SELECT id, user_id, COALESCE(ad_id, ''), normalized_text, created_at
		FROM ad_fingerprints
		WHERE user_id = $1
		  AND created_at >= $2
		  AND ($3::text = '' OR ad_id IS DISTINCT FROM $3::text)
		ORDER BY created_at DESC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, userID, since, excludeAdID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fingerprints recent: %w", err)
	}
	defer rows.Close()

	var out []duplicate.Fingerprint
	for rows.Next() {
		var fp duplicate.Fingerprint
		if err := rows.Scan(&fp.ID, &fp.UserID, &fp.AdID, &fp.NormalizedText, &fp.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: fingerprints scan: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: fingerprints rows: %w", err)
	}
	return out, nil
}

// Insert persists a fingerprint. An empty AdID is stored as NULL.
func (r *FingerprintRepository) Insert(ctx context.Context, fp duplicate.Fingerprint) error {
	const query = `
		INSERT INTO ad_fingerprints (id, user_id, ad_id, normalized_text, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		fp.ID,
		fp.UserID,
		nullString(fp.AdID),
		fp.NormalizedText,
		fp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: fingerprints insert: %w", err)
	}
	return nil
}

// Prune deletes fingerprints older than olderThan and returns how many rows
// went. Retention below MinRetention is raised to MinRetention.
func (r *FingerprintRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < MinRetention {
		olderThan = MinRetention
	}
	cutoff := r.now().Add(-olderThan)

	res, err := r.db.ExecContext(ctx, `DELETE FROM ad_fingerprints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: fingerprints prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: fingerprints prune rows: %w", err)
	}
	return n, nil
}

// StartPruning deletes expired fingerprints every interval until ctx is
// cancelled.
func (r *FingerprintRepository) StartPruning(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[store] fingerprint pruning stopped")
			return
		case <-ticker.C:
			n, err := r.Prune(ctx, retention)
			if err != nil {
				log.Printf("[store] prune fingerprints: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[store] pruned %d fingerprints", n)
			}
		}
	}
}
