package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "cems-cloud/internal/masterdata/domain"
)

const defaultStationParametersTable = "station_parameters"

// StationParameterRepository is a Postgres implementation for installations.
// Reads join through stations, parameters and monitoring types so callers get
// a fully labelled installation in one round trip.
type StationParameterRepository struct {
	db    DBTX
	table string
}

// NewStationParameterRepository constructs a repository.
func NewStationParameterRepository(db DBTX, opts ...StationParameterOption) *StationParameterRepository {
	repo := &StationParameterRepository{db: db, table: defaultStationParametersTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StationParameterOption configures the repository.
type StationParameterOption func(*StationParameterRepository)

// WithStationParameterTable overrides the default table name.
func WithStationParameterTable(table string) StationParameterOption {
	return func(repo *StationParameterRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

func (r *StationParameterRepository) selectQuery(where string) string {
	return fmt.Sprintf(`
SELECT
	sp.id,
	sp.station_id,
	st.site_id,
	sp.analyser_id,
	sp.parameter_id,
	p.name,
	COALESCE(p.label, p.name),
	COALESCE(mt.id, 0),
	COALESCE(mt.name, ''),
	sp.threshold,
	sp.lower_bound,
	COALESCE(sp.unit, COALESCE(p.unit, '')),
	sp.sampling_interval_seconds,
	sp.editable
FROM %s sp
JOIN stations st ON st.id = sp.station_id
JOIN parameters p ON p.id = sp.parameter_id
LEFT JOIN monitoring_types mt ON mt.id = p.monitoring_type_id
%s`, r.table, where)
}

// Get loads an installation by id. Missing yields (nil, nil).
func (r *StationParameterRepository) Get(ctx context.Context, id int64) (*masterdata.StationParameter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station parameter repo: nil db")
	}

	query := r.selectQuery(`WHERE sp.id = $1 LIMIT 1`)
	sp, err := scanStationParameter(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sp, nil
}

// ListBySite returns installations across every station of a site, ordered by
// monitoring type then parameter name.
func (r *StationParameterRepository) ListBySite(ctx context.Context, siteID int64) ([]masterdata.StationParameter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station parameter repo: nil db")
	}

	query := r.selectQuery(`WHERE st.site_id = $1 ORDER BY mt.id NULLS LAST, st.name, p.name`)
	return r.queryMany(ctx, query, siteID)
}

// ListByStation returns installations of one station ordered by parameter name.
func (r *StationParameterRepository) ListByStation(ctx context.Context, stationID int64) ([]masterdata.StationParameter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station parameter repo: nil db")
	}

	query := r.selectQuery(`WHERE sp.station_id = $1 ORDER BY p.name`)
	return r.queryMany(ctx, query, stationID)
}

// Save upserts an installation keyed on (station_id, parameter_id) and
// backfills the generated id.
func (r *StationParameterRepository) Save(ctx context.Context, sp *masterdata.StationParameter) error {
	if r == nil || r.db == nil {
		return errors.New("station parameter repo: nil db")
	}
	if sp == nil {
		return errors.New("station parameter repo: nil installation")
	}
	if err := sp.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	station_id,
	analyser_id,
	parameter_id,
	threshold,
	lower_bound,
	unit,
	sampling_interval_seconds,
	editable
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (station_id, parameter_id)
DO UPDATE SET
	analyser_id = EXCLUDED.analyser_id,
	threshold = EXCLUDED.threshold,
	lower_bound = EXCLUDED.lower_bound,
	unit = EXCLUDED.unit,
	sampling_interval_seconds = EXCLUDED.sampling_interval_seconds,
	editable = EXCLUDED.editable
RETURNING id`, r.table)

	return r.db.QueryRowContext(
		ctx,
		query,
		sp.StationID,
		sp.AnalyserID,
		sp.ParameterID,
		sp.Threshold,
		sp.LowerBound,
		sp.Unit,
		sp.SamplingIntervalSeconds,
		sp.Editable,
	).Scan(&sp.ID)
}

// UpdateThreshold replaces the enforced limits of an installation. Rejects
// installations marked non-editable.
func (r *StationParameterRepository) UpdateThreshold(ctx context.Context, id int64, threshold float64, lowerBound *float64) error {
	if r == nil || r.db == nil {
		return errors.New("station parameter repo: nil db")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET threshold = $2, lower_bound = $3
WHERE id = $1 AND editable`, r.table)

	res, err := r.db.ExecContext(ctx, query, id, threshold, lowerBound)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("station parameter repo: installation %d not found or not editable", id)
	}
	return nil
}

func (r *StationParameterRepository) queryMany(ctx context.Context, query string, args ...any) ([]masterdata.StationParameter, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.StationParameter
	for rows.Next() {
		sp, err := scanStationParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

func scanStationParameter(row rowScanner) (*masterdata.StationParameter, error) {
	var sp masterdata.StationParameter
	var typeID int64
	if err := row.Scan(
		&sp.ID,
		&sp.StationID,
		&sp.SiteID,
		&sp.AnalyserID,
		&sp.ParameterID,
		&sp.ParameterName,
		&sp.ParameterLabel,
		&typeID,
		&sp.MonitoringTypeName,
		&sp.Threshold,
		&sp.LowerBound,
		&sp.Unit,
		&sp.SamplingIntervalSeconds,
		&sp.Editable,
	); err != nil {
		return nil, err
	}
	if typeID != 0 {
		sp.MonitoringTypeID = &typeID
	}
	return &sp, nil
}
