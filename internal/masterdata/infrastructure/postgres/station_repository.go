package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "cems-cloud/internal/masterdata/domain"
)

const defaultStationsTable = "stations"

// StationRepository is a Postgres implementation for stations.
type StationRepository struct {
	db    DBTX
	table string
}

// NewStationRepository constructs a repository.
func NewStationRepository(db DBTX, opts ...StationOption) *StationRepository {
	repo := &StationRepository{db: db, table: defaultStationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StationOption configures the repository.
type StationOption func(*StationRepository)

// WithStationTable overrides the default table name.
func WithStationTable(table string) StationOption {
	return func(repo *StationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const stationColumns = `id, site_id, station_uid, name, calibration_from, calibration_to, calibration_expiry, created_at, created_by, updated_at, updated_by`

// Get loads a station by id. A missing station yields (nil, nil).
func (r *StationRepository) Get(ctx context.Context, id int64) (*masterdata.Station, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, stationColumns, r.table)

	station, err := scanStation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return station, nil
}

// ListBySite returns stations of a site ordered by name.
func (r *StationRepository) ListBySite(ctx context.Context, siteID int64) ([]masterdata.Station, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE site_id = $1
ORDER BY name`, stationColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.Station
	for rows.Next() {
		station, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *station)
	}
	return out, rows.Err()
}

// Save upserts a station keyed on station_uid and backfills the generated id.
func (r *StationRepository) Save(ctx context.Context, station *masterdata.Station) error {
	if r == nil || r.db == nil {
		return errors.New("station repo: nil db")
	}
	if station == nil {
		return errors.New("station repo: nil station")
	}
	if err := station.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	site_id,
	station_uid,
	name,
	calibration_from,
	calibration_to,
	calibration_expiry,
	created_by,
	updated_by
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $7
)
ON CONFLICT (station_uid)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	name = EXCLUDED.name,
	updated_by = EXCLUDED.updated_by,
	updated_at = NOW()
RETURNING id`, r.table)

	if err := r.db.QueryRowContext(
		ctx,
		query,
		station.SiteID,
		station.StationUID,
		station.Name,
		station.CalibrationFrom,
		station.CalibrationTo,
		station.CalibrationExpiry,
		station.UpdatedBy,
	).Scan(&station.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if station.CreatedAt.IsZero() {
		station.CreatedAt = now
	}
	station.UpdatedAt = now
	return nil
}

// UpdateCalibration replaces the calibration window of a station.
func (r *StationRepository) UpdateCalibration(ctx context.Context, stationID int64, from, to, expiry time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("station repo: nil db")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET calibration_from = $2,
	calibration_to = $3,
	calibration_expiry = $4,
	updated_at = NOW()
WHERE id = $1`, r.table)

	res, err := r.db.ExecContext(ctx, query, stationID, from, to, expiry)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("station repo: station %d not found", stationID)
	}
	return nil
}

func scanStation(row rowScanner) (*masterdata.Station, error) {
	var station masterdata.Station
	if err := row.Scan(
		&station.ID,
		&station.SiteID,
		&station.StationUID,
		&station.Name,
		&station.CalibrationFrom,
		&station.CalibrationTo,
		&station.CalibrationExpiry,
		&station.CreatedAt,
		&station.CreatedBy,
		&station.UpdatedAt,
		&station.UpdatedBy,
	); err != nil {
		return nil, err
	}
	station.CreatedAt = station.CreatedAt.UTC()
	station.UpdatedAt = station.UpdatedAt.UTC()
	return &station, nil
}
