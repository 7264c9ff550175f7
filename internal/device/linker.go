// Package device records which devices a user signs in from and the IPs
// each device was seen on. Linking is best-effort: failures are logged and
// counted, never returned to the request.
package device

import (
	"context"
	"log"
	"time"

	"github.com/jedoz/abuseguard/internal/metrics"
)

// Device id sanity bounds.
const (
	MinIDLength = 8
	MaxIDLength = 128
)

// Record is one (user, device) association. IPFirst, UserAgent and CreatedAt
// are set on the first sighting and never change; IPLast and UpdatedAt follow
// the latest one.
type Record struct {
	UserID    string
	DeviceID  string
	IPFirst   string
	IPLast    string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists device records.
type Store interface {
	// Upsert inserts rec, or on an existing (UserID, DeviceID) updates IPLast
	// and UpdatedAt only. Concurrent upserts of one key must be
	// safe; the last writer wins.
	Upsert(ctx context.Context, rec Record) error
}

// Request is the sighting to record.
type Request struct {
	UserID    string
	DeviceID  string
	IP        string
	UserAgent string
}

// Valid reports whether the request has a user and a device id of sane length.
func (r Request) Valid() bool {
	n := len(r.DeviceID)
	return r.UserID != "" && n >= MinIDLength && n <= MaxIDLength
}

// Linker links devices to users.
type Linker struct {
	store Store
	now   func() time.Time
}

// NewLinker creates a Linker.
func NewLinker(store Store) *Linker {
	return &Linker{store: store, now: time.Now}
}

// LinkDevice records the sighting. Invalid requests are ignored.
func (l *Linker) LinkDevice(ctx context.Context, req Request) {
	if !req.Valid() {
		return
	}
	now := l.now().UTC()
	rec := Record{
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		IPFirst:   req.IP,
		IPLast:    req.IP,
		UserAgent: req.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Upsert(ctx, rec); err != nil {
		metrics.StoreError(metrics.GuardDevice)
		log.Printf("[device] link failed user=%s device=%s: %v", req.UserID, req.DeviceID, err)
	}
}
