package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	telemetry "cems-cloud/internal/telemetry/domain"
)

const defaultReadingsTable = "sensor_data"

// ReadingRepository is a Postgres implementation for raw readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB, opts ...ReadingOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ReadingOption configures the repository.
type ReadingOption func(*ReadingRepository)

// WithReadingsTable overrides the default table name.
func WithReadingsTable(table string) ReadingOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertReadings writes a batch in one statement. Duplicate (time,
// installation) pairs are ignored so logger retries stay idempotent.
func (r *ReadingRepository) InsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	values := make([]string, 0, len(readings))
	args := make([]any, 0, len(readings)*5)
	for i, reading := range readings {
		if err := reading.Validate(); err != nil {
			return err
		}
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		args = append(args, reading.At.UTC(), reading.SiteID, reading.StationParamID, reading.Value, reading.DeviceUID)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (time, site_id, station_param_id, value, device_uid)
VALUES %s
ON CONFLICT (time, station_param_id) DO NOTHING`, r.table, strings.Join(values, ", "))

	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
