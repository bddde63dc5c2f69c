package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "cems-cloud/internal/masterdata/domain"
)

const defaultDevicesTable = "device"

// DeviceRepository is a Postgres implementation for data loggers.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// GetByUID loads a device by its logger uid. Missing yields (nil, nil).
func (r *DeviceRepository) GetByUID(ctx context.Context, uid string) (*masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if uid == "" {
		return nil, errors.New("device repo: empty uid")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, device_uid, auth_key, active
FROM %s
WHERE device_uid = $1
LIMIT 1`, r.table)

	var device masterdata.Device
	if err := r.db.QueryRowContext(ctx, query, uid).Scan(
		&device.ID,
		&device.SiteID,
		&device.DeviceUID,
		&device.AuthKey,
		&device.Active,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

// ListBySite returns devices of a site ordered by uid.
func (r *DeviceRepository) ListBySite(ctx context.Context, siteID int64) ([]masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, device_uid, auth_key, active
FROM %s
WHERE site_id = $1
ORDER BY device_uid`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.Device
	for rows.Next() {
		var device masterdata.Device
		if err := rows.Scan(&device.ID, &device.SiteID, &device.DeviceUID, &device.AuthKey, &device.Active); err != nil {
			return nil, err
		}
		out = append(out, device)
	}
	return out, rows.Err()
}

// Save upserts a device keyed on device_uid and backfills the generated id.
func (r *DeviceRepository) Save(ctx context.Context, device *masterdata.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (site_id, device_uid, auth_key, active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (device_uid)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	auth_key = EXCLUDED.auth_key,
	active = EXCLUDED.active
RETURNING id`, r.table)

	return r.db.QueryRowContext(
		ctx,
		query,
		device.SiteID,
		device.DeviceUID,
		device.AuthKey,
		device.Active,
	).Scan(&device.ID)
}
