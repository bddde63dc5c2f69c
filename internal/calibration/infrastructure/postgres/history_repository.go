package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	calibration "cems-cloud/internal/calibration/domain"
)

const defaultHistoryTable = "calibration_history"

// HistoryRepository is a Postgres implementation for calibration history.
type HistoryRepository struct {
	db    *sql.DB
	table string
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *sql.DB, opts ...HistoryOption) *HistoryRepository {
	repo := &HistoryRepository{db: db, table: defaultHistoryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// HistoryOption configures the repository.
type HistoryOption func(*HistoryRepository)

// WithHistoryTable overrides the default table name.
func WithHistoryTable(table string) HistoryOption {
	return func(repo *HistoryRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Insert writes one applied window.
func (r *HistoryRepository) Insert(ctx context.Context, record *calibration.Record) error {
	if r == nil || r.db == nil {
		return errors.New("calibration history repo: nil db")
	}
	if record == nil {
		return errors.New("calibration history repo: nil record")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, station_id, site_id, calibration_from, calibration_to, calibration_expiry, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.StationID,
		record.SiteID,
		record.From,
		record.To,
		record.Expiry,
		record.CreatedBy,
		record.CreatedAt,
	)
	return err
}

// ListByStation returns applied windows newest first.
func (r *HistoryRepository) ListByStation(ctx context.Context, stationID int64) ([]calibration.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calibration history repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, station_id, site_id, calibration_from, calibration_to, calibration_expiry, created_by, created_at
FROM %s
WHERE station_id = $1
ORDER BY created_at DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calibration.Record
	for rows.Next() {
		var record calibration.Record
		if err := rows.Scan(
			&record.ID,
			&record.StationID,
			&record.SiteID,
			&record.From,
			&record.To,
			&record.Expiry,
			&record.CreatedBy,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		out = append(out, record)
	}
	return out, rows.Err()
}
