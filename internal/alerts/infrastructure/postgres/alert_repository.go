package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "cems-cloud/internal/alerts/domain"
)

const defaultAlertsTable = "alerts"

// AlertRepository is a Postgres implementation for alerts.
type AlertRepository struct {
	db    *sql.DB
	table string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB, opts ...AlertOption) *AlertRepository {
	repo := &AlertRepository{db: db, table: defaultAlertsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AlertOption configures the repository.
type AlertOption func(*AlertRepository)

// WithAlertsTable overrides the default table name.
func WithAlertsTable(table string) AlertOption {
	return func(repo *AlertRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const alertColumns = `id, site_id, station_param_id, parameter_name, value, limit_value, kind, status, message, raised_at, acked_at, acked_by, cleared_at`

// Insert writes a new alert.
func (r *AlertRepository) Insert(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if err := alert.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, r.table, alertColumns)

	_, err := r.db.ExecContext(
		ctx,
		query,
		alert.ID,
		alert.SiteID,
		alert.StationParamID,
		alert.ParameterName,
		alert.Value,
		alert.Limit,
		alert.Kind,
		alert.Status,
		alert.Message,
		alert.RaisedAt,
		alert.AckedAt,
		nullableString(alert.AckedBy),
		alert.ClearedAt,
	)
	return err
}

// GetByID loads one alert. Missing yields (nil, nil).
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 LIMIT 1`, alertColumns, r.table)
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

// FindOpen returns the open alert for an installation and kind, if any.
func (r *AlertRepository) FindOpen(ctx context.Context, stationParamID int64, kind string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE station_param_id = $1 AND kind = $2 AND status = $3
ORDER BY raised_at DESC
LIMIT 1`, alertColumns, r.table)

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, stationParamID, kind, alerts.StatusOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

// Update persists a status transition.
func (r *AlertRepository) Update(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, acked_at = $3, acked_by = $4, cleared_at = $5
WHERE id = $1`, r.table)

	res, err := r.db.ExecContext(ctx, query, alert.ID, alert.Status, alert.AckedAt, nullableString(alert.AckedBy), alert.ClearedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	return nil
}

// List returns alerts of a site in a window, newest first. An empty status
// matches all statuses.
func (r *AlertRepository) List(ctx context.Context, siteID int64, status string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE site_id = $1 AND raised_at >= $2 AND raised_at < $3
	AND ($4 = '' OR status = $4)
ORDER BY raised_at DESC`, alertColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID, from, to, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var message, ackedBy sql.NullString
	if err := row.Scan(
		&alert.ID,
		&alert.SiteID,
		&alert.StationParamID,
		&alert.ParameterName,
		&alert.Value,
		&alert.Limit,
		&alert.Kind,
		&alert.Status,
		&message,
		&alert.RaisedAt,
		&alert.AckedAt,
		&ackedBy,
		&alert.ClearedAt,
	); err != nil {
		return nil, err
	}
	alert.Message = message.String
	alert.AckedBy = ackedBy.String
	alert.RaisedAt = alert.RaisedAt.UTC()
	return &alert, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
