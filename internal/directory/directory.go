// Package directory persists metadata about devices that have registered
// with the relay: network identity, first/last seen timestamps, and a
// registration counter.
//
// The directory is observational. It is written on each successful device
// registration and read by the HTTP API, but it is never consulted to decide
// whether a device is online. The in-memory connection registry is the only
// authority for liveness; a directory row merely records that a device has
// existed.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a device id has no directory entry.
var ErrNotFound = errors.New("directory: device not found")

// Device is one directory entry, keyed by the device id the hardware
// announced in its register handshake.
type Device struct {
	DeviceID      string    `json:"device_id"`
	MAC           string    `json:"mac,omitempty"`
	IP            string    `json:"ip,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	RegisterCount int       `json:"register_count"`
}

// Repository defines the interface for directory operations.
type Repository interface {
	RecordRegistration(ctx context.Context, deviceID, mac, ip string) error
	Get(ctx context.Context, deviceID string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
}

// SQLiteRepository stores the directory in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new directory repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Init creates the directory schema if it does not exist.
func (r *SQLiteRepository) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS devices (
			device_id      TEXT PRIMARY KEY,
			mac            TEXT,
			ip             TEXT,
			first_seen     TEXT NOT NULL,
			last_seen      TEXT NOT NULL,
			register_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("creating devices table: %w", err)
	}
	return nil
}

// RecordRegistration upserts a directory entry for a device registration.
// New ids get a row with first_seen set; known ids refresh last_seen and the
// network fields and bump the registration counter. Empty mac/ip values do
// not overwrite previously recorded ones.
func (r *SQLiteRepository) RecordRegistration(ctx context.Context, deviceID, mac, ip string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, mac, ip, first_seen, last_seen, register_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(device_id) DO UPDATE SET
			mac            = COALESCE(NULLIF(excluded.mac, ''), devices.mac),
			ip             = COALESCE(NULLIF(excluded.ip, ''), devices.ip),
			last_seen      = excluded.last_seen,
			register_count = devices.register_count + 1
	`, deviceID, nullableString(mac), nullableString(ip), now, now)
	if err != nil {
		return fmt.Errorf("recording registration for %s: %w", deviceID, err)
	}
	return nil
}

// Get returns one directory entry.
func (r *SQLiteRepository) Get(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, mac, ip, first_seen, last_seen, register_count
		FROM devices WHERE device_id = ?
	`, deviceID)

	dev, err := scanDevice(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading device %s: %w", deviceID, err)
	}
	return dev, nil
}

// List returns all directory entries ordered by most recently seen.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, mac, ip, first_seen, last_seen, register_count
		FROM devices ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		dev, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// scanDevice reads one row via the given Scan function.
func scanDevice(scan func(...any) error) (*Device, error) {
	var dev Device
	var mac, ip sql.NullString
	var firstSeen, lastSeen string

	if err := scan(&dev.DeviceID, &mac, &ip, &firstSeen, &lastSeen, &dev.RegisterCount); err != nil {
		return nil, err
	}

	if mac.Valid {
		dev.MAC = mac.String
	}
	if ip.Valid {
		dev.IP = ip.String
	}

	var err error
	if dev.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen %q: %w", firstSeen, err)
	}
	if dev.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen %q: %w", lastSeen, err)
	}
	return &dev, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
