package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	aggregation "cems-cloud/internal/aggregation"
)

const (
	defaultRawTable    = "sensor_data"
	defaultAgg15Table  = "sensor_agg_15min"
	defaultHourlyTable = "sensor_stddev_1hr"
)

// TimeseriesQuery reads raw readings and the materialized aggregate tables.
// It is strictly read-only; the aggregates are refreshed by an external
// process and this layer never assumes it can trigger a refresh.
type TimeseriesQuery struct {
	db          *sql.DB
	rawTable    string
	agg15Table  string
	hourlyTable string
	tz          string
	loc         *time.Location
}

// QueryOption configures the timeseries query.
type QueryOption func(*TimeseriesQuery)

// WithRawTable overrides the raw readings table name.
func WithRawTable(table string) QueryOption {
	return func(q *TimeseriesQuery) {
		if q != nil && table != "" {
			q.rawTable = table
		}
	}
}

// WithAggregateTables overrides the materialized aggregate table names.
func WithAggregateTables(agg15, hourly string) QueryOption {
	return func(q *TimeseriesQuery) {
		if q == nil {
			return
		}
		if agg15 != "" {
			q.agg15Table = agg15
		}
		if hourly != "" {
			q.hourlyTable = hourly
		}
	}
}

// NewTimeseriesQuery constructs a query bound to the bucket timezone.
func NewTimeseriesQuery(db *sql.DB, loc *time.Location, opts ...QueryOption) *TimeseriesQuery {
	if loc == nil {
		loc = time.UTC
	}
	query := &TimeseriesQuery{
		db:          db,
		rawTable:    defaultRawTable,
		agg15Table:  defaultAgg15Table,
		hourlyTable: defaultHourlyTable,
		tz:          loc.String(),
		loc:         loc,
	}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// SeriesRow is one aggregate bucket for one installation.
type SeriesRow struct {
	StationParamID int64
	Bucket         time.Time
	Avg            float64
	StdDev         *float64
	Count          int64
}

// QuerySeries returns bucketed rows for the installations within [from, to),
// ordered by installation then bucket. An empty result is an empty series,
// never an error; unknown installation ids simply yield no rows.
func (q *TimeseriesQuery) QuerySeries(ctx context.Context, stationParamIDs []int64, window aggregation.Window, width aggregation.BucketWidth) ([]SeriesRow, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("timeseries query: nil db")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if len(stationParamIDs) == 0 {
		return nil, nil
	}

	switch width {
	case aggregation.Bucket15Min:
		return q.query15Min(ctx, stationParamIDs, window)
	case aggregation.Bucket1Hour:
		return q.queryHourly(ctx, stationParamIDs, window)
	case aggregation.Bucket1Day:
		return q.queryDaily(ctx, stationParamIDs, window)
	default:
		return nil, aggregation.ErrInvalidBucketWidth
	}
}

func (q *TimeseriesQuery) query15Min(ctx context.Context, ids []int64, window aggregation.Window) ([]SeriesRow, error) {
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
		return nil, err
	}
	defer rows.Close()

	var out []SeriesRow
	for rows.Next() {
		var row SeriesRow
		var bucket time.Time
		if err := rows.Scan(&row.StationParamID, &bucket, &row.Avg, &row.Count); err != nil {
			return nil, err
		}
		row.Bucket = rebindLocal(bucket, q.loc)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (q *TimeseriesQuery) queryHourly(ctx context.Context, ids []int64, window aggregation.Window) ([]SeriesRow, error) {
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
		return nil, err
	}
	defer rows.Close()

	var out []SeriesRow
	for rows.Next() {
		var row SeriesRow
		var bucket time.Time
		var stddev sql.NullFloat64
		if err := rows.Scan(&row.StationParamID, &bucket, &row.Avg, &stddev, &row.Count); err != nil {
			return nil, err
		}
		row.Bucket = rebindLocal(bucket, q.loc)
		if stddev.Valid {
			v := stddev.Float64
			row.StdDev = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// queryDaily combines hourly aggregate rows into daily buckets with the
// law-of-total-variance roll-up instead of re-scanning raw data.
func (q *TimeseriesQuery) queryDaily(ctx context.Context, ids []int64, window aggregation.Window) ([]SeriesRow, error) {
	hourly, err := q.queryHourly(ctx, ids, window)
	if err != nil {
		return nil, err
	}

	type dayKey struct {
		id  int64
		day time.Time
	}
	grouped := make(map[dayKey][]aggregation.HourBucket)
	order := make([]dayKey, 0)
	for _, row := range hourly {
		dayStart, err := aggregation.AlignBucket(row.Bucket, aggregation.Bucket1Day, q.loc)
		if err != nil {
			return nil, err
		}
		key := dayKey{id: row.StationParamID, day: dayStart}
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		hb := aggregation.HourBucket{Start: row.Bucket, Avg: row.Avg, Count: row.Count}
		if row.StdDev != nil {
			hb.StdDev = *row.StdDev
		}
		grouped[key] = append(grouped[key], hb)
	}

	out := make([]SeriesRow, 0, len(order))
	for _, key := range order {
		day, err := aggregation.RollupDay(key.day, grouped[key])
		if err != nil {
			return nil, err
		}
		stddev := day.StdDev
		out = append(out, SeriesRow{
			StationParamID: key.id,
			Bucket:         day.Start,
			Avg:            day.Avg,
			StdDev:         &stddev,
			Count:          day.Count,
		})
	}
	return out, nil
}

// DayCount is the summed hourly reading count for one local day.
type DayCount struct {
	Day    time.Time
	Actual int64
}

// QueryDailyCounts sums materialized hourly counts per local day. Counts lag
// ingestion by up to the aggregate refresh interval.
func (q *TimeseriesQuery) QueryDailyCounts(ctx context.Context, stationParamID int64, window aggregation.Window) ([]DayCount, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("timeseries query: nil db")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT date_trunc('day', bucket_ist) AS day, COALESCE(SUM(n), 0) AS actual
FROM %s
WHERE station_param_id = $1
	AND bucket_ist >= $2 AND bucket_ist < $3
GROUP BY date_trunc('day', bucket_ist)
ORDER BY day`, q.hourlyTable)

	rows, err := q.db.QueryContext(ctx, query, stationParamID, naiveLocal(window.From, q.loc), naiveLocal(window.To, q.loc))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		var day time.Time
		if err := rows.Scan(&day, &dc.Actual); err != nil {
			return nil, err
		}
		dc.Day = rebindLocal(day, q.loc)
		out = append(out, dc)
	}
	return out, rows.Err()
}

// ExceedanceDayRow carries both exceedance tiers for one local day.
type ExceedanceDayRow struct {
	Day              time.Time
	MinValue         float64
	MaxValue         float64
	AvgValue         float64
	StdDev           *float64
	RawTotal         int64
	RawExceeded      int64
	Bucket15Total    int64
	Bucket15Exceeded int64
}

// QueryDailyExceedance evaluates the raw tier against sensor_data and the
// bucket tier against the 15-minute aggregates, grouped per local day.
func (q *TimeseriesQuery) QueryDailyExceedance(ctx context.Context, stationParamID int64, threshold, tolerance float64, window aggregation.Window) ([]ExceedanceDayRow, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("timeseries query: nil db")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		tolerance = aggregation.DefaultBucketTolerance
	}

	rawQuery := fmt.Sprintf(`
SELECT
	date_trunc('day', timezone($1, time)) AS day,
	MIN(value), MAX(value), AVG(value), STDDEV_POP(value),
	COUNT(*),
	SUM(CASE WHEN value > $2 THEN 1 ELSE 0 END)
FROM %s
WHERE station_param_id = $3
	AND time >= $4 AND time < $5
GROUP BY date_trunc('day', timezone($1, time))
ORDER BY day`, q.rawTable)

	rows, err := q.db.QueryContext(ctx, rawQuery, q.tz, threshold, stationParamID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[time.Time]*ExceedanceDayRow)
	order := make([]time.Time, 0)
	for rows.Next() {
		var row ExceedanceDayRow
		var day time.Time
		var stddev sql.NullFloat64
		if err := rows.Scan(&day, &row.MinValue, &row.MaxValue, &row.AvgValue, &stddev, &row.RawTotal, &row.RawExceeded); err != nil {
			return nil, err
		}
		row.Day = rebindLocal(day, q.loc)
		if stddev.Valid {
			v := stddev.Float64
			row.StdDev = &v
		}
		byDay[row.Day] = &row
		order = append(order, row.Day)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bucketQuery := fmt.Sprintf(`
SELECT
	date_trunc('day', timezone($1, bucket)) AS day,
	COUNT(*),
	SUM(CASE WHEN avg_value > $2 THEN 1 ELSE 0 END)
FROM %s
WHERE station_param_id = $3
	AND bucket >= $4 AND bucket < $5
GROUP BY date_trunc('day', timezone($1, bucket))
ORDER BY day`, q.agg15Table)

	bucketRows, err := q.db.QueryContext(ctx, bucketQuery, q.tz, threshold*tolerance, stationParamID, window.From, window.To)
	if err != nil {
		return nil, err
	}
	defer bucketRows.Close()

	for bucketRows.Next() {
		var day time.Time
		var total, exceeded int64
		if err := bucketRows.Scan(&day, &total, &exceeded); err != nil {
			return nil, err
		}
		local := rebindLocal(day, q.loc)
		row, ok := byDay[local]
		if !ok {
			row = &ExceedanceDayRow{Day: local}
			byDay[local] = row
			order = append(order, local)
		}
		row.Bucket15Total = total
		row.Bucket15Exceeded = exceeded
	}
	if err := bucketRows.Err(); err != nil {
		return nil, err
	}

	out := make([]ExceedanceDayRow, 0, len(order))
	for _, day := range order {
		out = append(out, *byDay[day])
	}
	return out, nil
}

// WindowMoments returns summed (n, sum_x, sum_x2) over the hourly aggregates
// so callers can derive an exact whole-window stddev.
func (q *TimeseriesQuery) WindowMoments(ctx context.Context, stationParamID int64, window aggregation.Window) (int64, float64, float64, error) {
	if q == nil || q.db == nil {
		return 0, 0, 0, errors.New("timeseries query: nil db")
	}
	if err := window.Validate(); err != nil {
		return 0, 0, 0, err
	}

	query := fmt.Sprintf(`
SELECT COALESCE(SUM(n), 0), COALESCE(SUM(sum_x), 0), COALESCE(SUM(sum_x2), 0)
FROM %s
WHERE station_param_id = $1
	AND bucket_ist >= $2 AND bucket_ist < $3`, q.hourlyTable)

	var n int64
	var sumX, sumX2 float64
	err := q.db.QueryRowContext(ctx, query, stationParamID, naiveLocal(window.From, q.loc), naiveLocal(window.To, q.loc)).
		Scan(&n, &sumX, &sumX2)
	return n, sumX, sumX2, err
}

// idArgs renders a placeholder list starting after `offset` positional args.
func idArgs(ids []int64, offset int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", offset+i+1)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

// naiveLocal renders an instant as the wall-clock timestamp stored in the
// bucket_ist column (timestamp without time zone).
func naiveLocal(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
}

// rebindLocal reinterprets a naive timestamp scanned as UTC in the bucket
// timezone.
func rebindLocal(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
