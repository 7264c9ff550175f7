package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/jedoz/abuseguard/internal/blacklist"
)

// BlacklistRepository reads blacklist_entries. Entries are written by
// operator tooling.
type BlacklistRepository struct {
	db *sql.DB
}

// NewBlacklistRepository creates a repository backed by db.
func NewBlacklistRepository(db *sql.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// findActiveQuery keeps the oldest active entry per (type, value) and orders
// the rest IP, DEVICE, PHONE so LIMIT never drops a higher-precedence match.
const findActiveQuery = `
	SELECT type, value, reason, is_active
	FROM (
		SELECT DISTINCT ON (type, value) id, type, value, COALESCE(reason, '') AS reason, is_active
		FROM blacklist_entries
		WHERE is_active = TRUE
		  AND (type, value) IN (SELECT * FROM unnest($1::text[], $2::text[]))
		ORDER BY type, value, id
	) e
	ORDER BY CASE type WHEN 'IP' THEN 0 WHEN 'DEVICE' THEN 1 ELSE 2 END, id
	LIMIT $3`

// FindActive returns active entries whose (type, value) equals any candidate,
// one per pair and at most limit rows, in IP, DEVICE, PHONE order. Values are
// matched exactly.
func (r *BlacklistRepository) FindActive(ctx context.Context, candidates []blacklist.Candidate, limit int) ([]blacklist.Entry, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	types := make([]string, len(candidates))
	values := make([]string, len(candidates))
	for i, c := range candidates {
		types[i] = string(c.Type)
		values[i] = c.Value
	}

	rows, err := r.db.QueryContext(ctx, findActiveQuery, pq.Array(types), pq.Array(values), limit)
	if err != nil {
		return nil, fmt.Errorf("store: blacklist find: %w", err)
	}
	defer rows.Close()

	var out []blacklist.Entry
	for rows.Next() {
		var (
			e   blacklist.Entry
			typ string
		)
		if err := rows.Scan(&typ, &e.Value, &e.Reason, &e.IsActive); err != nil {
			return nil, fmt.Errorf("store: blacklist scan: %w", err)
		}
		e.Type = blacklist.EntryType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: blacklist rows: %w", err)
	}
	return out, nil
}
