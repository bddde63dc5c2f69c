package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LatestRow is the most recent raw reading for one installation.
type LatestRow struct {
	StationParamID int64
	Value          float64
	At             time.Time
}

// QueryLatest returns the newest raw reading per installation of a site.
// Installations with no data at all are simply absent from the result.
func (q *TimeseriesQuery) QueryLatest(ctx context.Context, siteID int64) (map[int64]LatestRow, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("timeseries query: nil db")
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ON (station_param_id) station_param_id, value, time
FROM %s
WHERE site_id = $1
ORDER BY station_param_id, time DESC`, q.rawTable)

	rows, err := q.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]LatestRow)
	for rows.Next() {
		var row LatestRow
		var value sql.NullFloat64
		if err := rows.Scan(&row.StationParamID, &value, &row.At); err != nil {
			return nil, err
		}
		if !value.Valid {
			continue
		}
		row.Value = value.Float64
		row.At = row.At.UTC()
		out[row.StationParamID] = row
	}
	return out, rows.Err()
}

// QueryRawCount counts raw readings for a site since the given instant.
func (q *TimeseriesQuery) QueryRawCount(ctx context.Context, siteID int64, since time.Time) (int64, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("timeseries query: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE site_id = $1 AND time >= $2`, q.rawTable)
	var count int64
	err := q.db.QueryRowContext(ctx, query, siteID, since).Scan(&count)
	return count, err
}
