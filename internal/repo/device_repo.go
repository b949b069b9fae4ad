package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
)

// DeviceRepo persists devices.
type DeviceRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Device, error)
	Upsert(ctx context.Context, device model.Device) (model.Device, error)
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance.
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

const deviceColumns = `id, user_id, platform, push_token, is_primary, last_seen_at, created_at`

// GetByID retrieves a device.
func (r *deviceRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE id = $1
	`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, ErrNotFound
		}
		return model.Device{}, fmt.Errorf("query device: %w", err)
	}
	return device, nil
}

// Upsert inserts the device or, when the id already exists, refreshes its
// owner, platform, push token and last_seen_at. Runs on every successful
// verification.
func (r *deviceRepo) Upsert(ctx context.Context, device model.Device) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO devices (id, user_id, platform, push_token, is_primary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			push_token = EXCLUDED.push_token,
			is_primary = EXCLUDED.is_primary,
			last_seen_at = now()
		RETURNING `+deviceColumns,
		device.ID, device.UserID, device.Platform, device.PushToken, device.IsPrimary)

	updated, err := scanDevice(row)
	if err != nil {
		return model.Device{}, fmt.Errorf("upsert device: %w", err)
	}
	return updated, nil
}

func scanDevice(row rowScanner) (model.Device, error) {
	var d model.Device
	var idStr, userIDStr string
	err := row.Scan(&idStr, &userIDStr, &d.Platform, &d.PushToken, &d.IsPrimary, &d.LastSeenAt, &d.CreatedAt)
	if err != nil {
		return model.Device{}, err
	}
	d.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Device{}, fmt.Errorf("parse device ID: %w", err)
	}
	d.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return model.Device{}, fmt.Errorf("parse device user ID: %w", err)
	}
	return d, nil
}
