package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jedoz/abuseguard/internal/device"
)

// DeviceRepository writes user_devices.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a repository backed by db.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert inserts the device or, when (user_id, device_id) exists, refreshes
// ip_last and updated_at only. ip_first, user_agent and created_at keep their
// first-sighting values.
func (r *DeviceRepository) Upsert(ctx context.Context, rec device.Record) error {
	const query = `
		INSERT INTO user_devices (user_id, device_id, ip_first, ip_last, user_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $4, $5, $5)
		ON CONFLICT (user_id, device_id) DO UPDATE
		SET ip_last = EXCLUDED.ip_last,
		    updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.UserID,
		rec.DeviceID,
		nullString(rec.IPLast),
		nullString(rec.UserAgent),
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: device upsert: %w", err)
	}
	return nil
}
