package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	aggregation "cems-cloud/internal/aggregation"
)

// StreamSeries iterates bucketed rows without materializing the whole result,
// invoking fn per row. Iteration stops at the first fn error and the cursor is
// closed on context cancellation, so exports abort cleanly when the client
// disconnects. Daily buckets are derived from the hourly roll-up and therefore
// buffered.
func (q *TimeseriesQuery) StreamSeries(ctx context.Context, stationParamIDs []int64, window aggregation.Window, width aggregation.BucketWidth, fn func(SeriesRow) error) error {
	if q == nil || q.db == nil {
		return errors.New("timeseries query: nil db")
	}
	if fn == nil {
		return errors.New("timeseries query: nil row func")
	}
	if err := window.Validate(); err != nil {
		return err
	}
	if len(stationParamIDs) == 0 {
		return nil
	}

	switch width {
	case aggregation.Bucket15Min:
		return q.stream15Min(ctx, stationParamIDs, window, fn)
	case aggregation.Bucket1Hour:
		return q.streamHourly(ctx, stationParamIDs, window, fn)
	case aggregation.Bucket1Day:
		rows, err := q.queryDaily(ctx, stationParamIDs, window)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	default:
		return aggregation.ErrInvalidBucketWidth
	}
}

func (q *TimeseriesQuery) stream15Min(ctx context.Context, ids []int64, window aggregation.Window, fn func(SeriesRow) error) error {
	placeholders, args := idArgs(ids, 3)
	query := fmt.Sprintf(`
SELECT station_param_id, timezone($1, bucket) AS bucket_local, avg_value, n
FROM %s
WHERE bucket >= $2 AND bucket < $3
	AND station_param_id IN (%s)
ORDER BY station_param_id, bucket`, q.agg15Table, placeholders)

	args = append([]any{q.tz, window.From, window.To}, args...)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row SeriesRow
		var bucket time.Time
		if err := rows.Scan(&row.StationParamID, &bucket, &row.Avg, &row.Count); err != nil {
			return err
		}
		row.Bucket = rebindLocal(bucket, q.loc)
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (q *TimeseriesQuery) streamHourly(ctx context.Context, ids []int64, window aggregation.Window, fn func(SeriesRow) error) error {
	placeholders, args := idArgs(ids, 2)
	query := fmt.Sprintf(`
SELECT station_param_id, bucket_ist, avg_value, stddev_value, n
FROM %s
WHERE bucket_ist >= $1 AND bucket_ist < $2
	AND station_param_id IN (%s)
ORDER BY station_param_id, bucket_ist`, q.hourlyTable, placeholders)

	args = append([]any{naiveLocal(window.From, q.loc), naiveLocal(window.To, q.loc)}, args...)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row SeriesRow
		var bucket time.Time
		var stddev sql.NullFloat64
		if err := rows.Scan(&row.StationParamID, &bucket, &row.Avg, &stddev, &row.Count); err != nil {
			return err
		}
		row.Bucket = rebindLocal(bucket, q.loc)
		if stddev.Valid {
			v := stddev.Float64
			row.StdDev = &v
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
