package application

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	aggregation "cems-cloud/internal/aggregation"
	aggpg "cems-cloud/internal/aggregation/infrastructure/postgres"
	"cems-cloud/internal/auth"
	masterdata "cems-cloud/internal/masterdata/domain"
	"cems-cloud/internal/observability/metrics"
)

// TimeseriesReader is the slice of the aggregate query layer reports need.
type TimeseriesReader interface {
	QuerySeries(ctx context.Context, stationParamIDs []int64, window aggregation.Window, width aggregation.BucketWidth) ([]aggpg.SeriesRow, error)
	StreamSeries(ctx context.Context, stationParamIDs []int64, window aggregation.Window, width aggregation.BucketWidth, fn func(aggpg.SeriesRow) error) error
	QueryDailyCounts(ctx context.Context, stationParamID int64, window aggregation.Window) ([]aggpg.DayCount, error)
	QueryDailyExceedance(ctx context.Context, stationParamID int64, threshold, tolerance float64, window aggregation.Window) ([]aggpg.ExceedanceDayRow, error)
	WindowMoments(ctx context.Context, stationParamID int64, window aggregation.Window) (int64, float64, float64, error)
}

// InstallationReader resolves installations and their limits.
type InstallationReader interface {
	Get(ctx context.Context, id int64) (*masterdata.StationParameter, error)
	ListBySite(ctx context.Context, siteID int64) ([]masterdata.StationParameter, error)
}

// StationReader resolves station names for report grouping.
type StationReader interface {
	ListBySite(ctx context.Context, siteID int64) ([]masterdata.Station, error)
}

// Service assembles emission reports from the materialized aggregates.
type Service struct {
	timeseries    TimeseriesReader
	installations InstallationReader
	stations      StationReader
	cfg           aggregation.Config
	logger        *log.Logger
}

// NewService constructs a report service.
func NewService(timeseries TimeseriesReader, installations InstallationReader, stations StationReader, cfg aggregation.Config, logger *log.Logger) (*Service, error) {
	if timeseries == nil || installations == nil || stations == nil {
		return nil, errors.New("reports service: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		timeseries:    timeseries,
		installations: installations,
		stations:      stations,
		cfg:           cfg,
		logger:        logger,
	}, nil
}

// SeriesRequest selects installations of one site over a window.
type SeriesRequest struct {
	SiteID          int64
	StationParamIDs []int64
	Window          aggregation.Window
	Width           aggregation.BucketWidth
}

// SeriesPoint is one bucket of one installation's series. Non-finite values
// serialize as null.
type SeriesPoint struct {
	TimeBucket  time.Time `json:"time_bucket"`
	AvgValue    *float64  `json:"avg_value"`
	StdDevValue *float64  `json:"stddev_value"`
	Count       int64     `json:"n"`
}

// ParameterSeries is the series of one installation.
type ParameterSeries struct {
	StationParamID int64         `json:"station_param_id"`
	Parameter      string        `json:"parameter"`
	Label          string        `json:"label"`
	Unit           string        `json:"unit"`
	Threshold      float64       `json:"threshold"`
	Points         []SeriesPoint `json:"points"`
}

// StationSeries groups installation series by station.
type StationSeries struct {
	StationID   int64             `json:"station_id"`
	StationName string            `json:"station_name"`
	Parameters  []ParameterSeries `json:"parameters"`
}

// MonitoringTypeSeries is the top grouping level.
type MonitoringTypeSeries struct {
	MonitoringType string          `json:"monitoring_type"`
	Stations       []StationSeries `json:"stations"`
}

// SeriesReport is the full grouped series response.
type SeriesReport struct {
	SiteID int64                  `json:"site_id"`
	From   time.Time              `json:"from"`
	To     time.Time              `json:"to"`
	Bucket string                 `json:"bucket"`
	Groups []MonitoringTypeSeries `json:"data"`
}

// Series builds the grouped series report. Requested installation ids outside
// the site are silently dropped; an empty window yields empty series.
func (s *Service) Series(ctx context.Context, req SeriesRequest) (*SeriesReport, error) {
	started := time.Now()
	report, err := s.series(ctx, req)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportQuery("series", result, time.Since(started))
	return report, err
}

func (s *Service) series(ctx context.Context, req SeriesRequest) (*SeriesReport, error) {
	if !auth.CanAccessSite(ctx, req.SiteID) {
		return nil, auth.ErrSiteForbidden
	}
	if !req.Width.IsValid() {
		return nil, aggregation.ErrInvalidBucketWidth
	}
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}

	installations, err := s.selectInstallations(ctx, req.SiteID, req.StationParamIDs)
	if err != nil {
		return nil, err
	}

	report := &SeriesReport{
		SiteID: req.SiteID,
		From:   req.Window.From,
		To:     req.Window.To,
		Bucket: string(req.Width),
		Groups: []MonitoringTypeSeries{},
	}
	if len(installations) == 0 {
		return report, nil
	}

	ids := make([]int64, len(installations))
	for i, sp := range installations {
		ids[i] = sp.ID
	}
	rows, err := s.timeseries.QuerySeries(ctx, ids, req.Window, req.Width)
	if err != nil {
		return nil, err
	}
	points := groupPoints(rows)

	stationNames, err := s.stationNames(ctx, req.SiteID)
	if err != nil {
		return nil, err
	}
	report.Groups = groupInstallations(installations, points, stationNames)
	return report, nil
}

func (s *Service) selectInstallations(ctx context.Context, siteID int64, wanted []int64) ([]masterdata.StationParameter, error) {
	installations, err := s.installations.ListBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if len(wanted) == 0 {
		return installations, nil
	}
	keep := make(map[int64]struct{}, len(wanted))
	for _, id := range wanted {
		keep[id] = struct{}{}
	}
	var out []masterdata.StationParameter
	for _, sp := range installations {
		if _, ok := keep[sp.ID]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (s *Service) stationNames(ctx context.Context, siteID int64) (map[int64]string, error) {
	stations, err := s.stations.ListBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(stations))
	for _, st := range stations {
		names[st.ID] = st.Name
	}
	return names, nil
}

func groupPoints(rows []aggpg.SeriesRow) map[int64][]SeriesPoint {
	out := make(map[int64][]SeriesPoint)
	for _, row := range rows {
		out[row.StationParamID] = append(out[row.StationParamID], SeriesPoint{
			TimeBucket:  row.Bucket,
			AvgValue:    aggregation.SanitizeFloat(row.Avg),
			StdDevValue: aggregation.SanitizePtr(row.StdDev),
			Count:       row.Count,
		})
	}
	return out
}

// groupInstallations builds the monitoring-type -> station -> parameter tree,
// preserving the installation listing order at every level.
func groupInstallations(installations []masterdata.StationParameter, points map[int64][]SeriesPoint, stationNames map[int64]string) []MonitoringTypeSeries {
	typeIdx := map[string]int{}
	stationIdx := map[string]map[int64]int{}
	groups := []MonitoringTypeSeries{}

	for _, sp := range installations {
		mt := sp.MonitoringTypeName
		if mt == "" {
			mt = "unclassified"
		}
		gi, ok := typeIdx[mt]
		if !ok {
			gi = len(groups)
			typeIdx[mt] = gi
			groups = append(groups, MonitoringTypeSeries{MonitoringType: mt})
			stationIdx[mt] = map[int64]int{}
		}
		si, ok := stationIdx[mt][sp.StationID]
		if !ok {
			si = len(groups[gi].Stations)
			stationIdx[mt][sp.StationID] = si
			groups[gi].Stations = append(groups[gi].Stations, StationSeries{
				StationID:   sp.StationID,
				StationName: stationNames[sp.StationID],
			})
		}
		pts := points[sp.ID]
		if pts == nil {
			pts = []SeriesPoint{}
		}
		groups[gi].Stations[si].Parameters = append(groups[gi].Stations[si].Parameters, ParameterSeries{
			StationParamID: sp.ID,
			Parameter:      sp.ParameterName,
			Label:          sp.ParameterLabel,
			Unit:           sp.Unit,
			Threshold:      sp.Threshold,
			Points:         pts,
		})
	}
	return groups
}

// DayAvailability is one local day's availability for one installation.
type DayAvailability struct {
	Date                   string  `json:"date"`
	ExpectedReadings       int64   `json:"expected_readings"`
	ActualReadings         int64   `json:"actual_readings"`
	AvailabilityPercentage float64 `json:"availability_percentage"`
}

// AvailabilityReport is the day-wise availability response.
type AvailabilityReport struct {
	StationParamID        int64             `json:"station_param_id"`
	Parameter             string            `json:"parameter"`
	SamplingInterval      int               `json:"sampling_interval_seconds"`
	StalenessBoundSeconds int64             `json:"staleness_bound_seconds"`
	Days                  []DayAvailability `json:"days"`
}

// Availability computes day-wise availability for one installation. Days with
// no materialized rows report zero actual readings; a missing or zero
// sampling interval reports 0% for every day.
func (s *Service) Availability(ctx context.Context, stationParamID int64, window aggregation.Window) (*AvailabilityReport, error) {
	started := time.Now()
	report, err := s.availability(ctx, stationParamID, window)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveAvailability(result, time.Since(started))
	return report, err
}

func (s *Service) availability(ctx context.Context, stationParamID int64, window aggregation.Window) (*AvailabilityReport, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	sp, err := s.installation(ctx, stationParamID)
	if err != nil {
		return nil, err
	}

	counts, err := s.timeseries.QueryDailyCounts(ctx, stationParamID, window)
	if err != nil {
		return nil, err
	}
	actualByDay := make(map[string]int64, len(counts))
	for _, dc := range counts {
		actualByDay[dc.Day.Format("2006-01-02")] = dc.Actual
	}

	loc := s.cfg.Location()
	expected := aggregation.ExpectedDailyCount(float64(sp.SamplingIntervalSeconds))
	report := &AvailabilityReport{
		StationParamID:        sp.ID,
		Parameter:             sp.ParameterName,
		SamplingInterval:      sp.SamplingIntervalSeconds,
		StalenessBoundSeconds: int64(s.cfg.StalenessBound().Seconds()),
	}

	dayStart, err := aggregation.AlignBucket(window.From, aggregation.Bucket1Day, loc)
	if err != nil {
		return nil, err
	}
	for day := dayStart; day.Before(window.To); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		actual := actualByDay[key]
		avail := aggregation.ComputeAvailability(actual, expected)
		report.Days = append(report.Days, DayAvailability{
			Date:                   key,
			ExpectedReadings:       avail.Expected,
			ActualReadings:         avail.Actual,
			AvailabilityPercentage: avail.Percent,
		})
	}
	return report, nil
}

// DayExceedance is one local day's exceedance verdicts for one installation.
type DayExceedance struct {
	Date                string   `json:"date"`
	MinValue            *float64 `json:"min_value"`
	MaxValue            *float64 `json:"max_value"`
	AvgValue            *float64 `json:"avg_value"`
	StdDevValue         *float64 `json:"stddev_value"`
	RawTotal            int64    `json:"raw_total"`
	RawExceeded         int64    `json:"raw_exceeded"`
	RawExceededPercent  float64  `json:"raw_exceeded_percentage"`
	BucketTotal         int64    `json:"bucket_total"`
	BucketExceeded      int64    `json:"bucket_exceeded"`
	BucketExceedPercent float64  `json:"bucket_exceeded_percentage"`
	IsExceedOverall     bool     `json:"is_exceed_overall"`
}

// ExceedanceReport is the daily two-tier exceedance response.
type ExceedanceReport struct {
	StationParamID  int64           `json:"station_param_id"`
	Parameter       string          `json:"parameter"`
	Threshold       float64         `json:"threshold"`
	BucketTolerance float64         `json:"bucket_tolerance"`
	LowerBound      *float64        `json:"lower_bound"`
	Days            []DayExceedance `json:"days"`
}

// Exceedance builds the daily exceedance report for one installation.
func (s *Service) Exceedance(ctx context.Context, stationParamID int64, window aggregation.Window) (*ExceedanceReport, error) {
	started := time.Now()
	report, err := s.exceedance(ctx, stationParamID, window)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportQuery("exceedance", result, time.Since(started))
	return report, err
}

func (s *Service) exceedance(ctx context.Context, stationParamID int64, window aggregation.Window) (*ExceedanceReport, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	sp, err := s.installation(ctx, stationParamID)
	if err != nil {
		return nil, err
	}

	tolerance := s.cfg.BucketTolerance
	if tolerance <= 0 {
		tolerance = aggregation.DefaultBucketTolerance
	}
	rows, err := s.timeseries.QueryDailyExceedance(ctx, stationParamID, sp.Threshold, tolerance, window)
	if err != nil {
		return nil, err
	}

	report := &ExceedanceReport{
		StationParamID:  sp.ID,
		Parameter:       sp.ParameterName,
		Threshold:       sp.Threshold,
		BucketTolerance: tolerance,
		LowerBound:      sp.LowerBound,
	}
	for _, row := range rows {
		day := DayExceedance{
			Date:                row.Day.Format("2006-01-02"),
			MinValue:            aggregation.SanitizeFloat(row.MinValue),
			MaxValue:            aggregation.SanitizeFloat(row.MaxValue),
			AvgValue:            aggregation.SanitizeFloat(row.AvgValue),
			StdDevValue:         aggregation.SanitizePtr(row.StdDev),
			RawTotal:            row.RawTotal,
			RawExceeded:         row.RawExceeded,
			RawExceededPercent:  percent(row.RawExceeded, row.RawTotal),
			BucketTotal:         row.Bucket15Total,
			BucketExceeded:      row.Bucket15Exceeded,
			BucketExceedPercent: percent(row.Bucket15Exceeded, row.Bucket15Total),
			IsExceedOverall:     row.RawExceeded > 0 || row.Bucket15Exceeded > 0,
		}
		report.Days = append(report.Days, day)
	}
	return report, nil
}

// SummaryReport carries whole-window statistics for one installation, derived
// from the summed hourly moments rather than an average of averages.
type SummaryReport struct {
	StationParamID int64     `json:"station_param_id"`
	Parameter      string    `json:"parameter"`
	Unit           string    `json:"unit"`
	Threshold      float64   `json:"threshold"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Count          int64     `json:"n"`
	AvgValue       *float64  `json:"avg_value"`
	StdDevValue    *float64  `json:"stddev_value"`
}

// Summary computes the exact whole-window mean and standard deviation for one
// installation from the summed (n, sum_x, sum_x2) of the hourly aggregates.
// An empty window reports zero readings and null statistics.
func (s *Service) Summary(ctx context.Context, stationParamID int64, window aggregation.Window) (*SummaryReport, error) {
	started := time.Now()
	report, err := s.summary(ctx, stationParamID, window)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportQuery("summary", result, time.Since(started))
	return report, err
}

func (s *Service) summary(ctx context.Context, stationParamID int64, window aggregation.Window) (*SummaryReport, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	sp, err := s.installation(ctx, stationParamID)
	if err != nil {
		return nil, err
	}

	n, sumX, sumX2, err := s.timeseries.WindowMoments(ctx, stationParamID, window)
	if err != nil {
		return nil, err
	}
	report := &SummaryReport{
		StationParamID: sp.ID,
		Parameter:      sp.ParameterName,
		Unit:           sp.Unit,
		Threshold:      sp.Threshold,
		From:           window.From,
		To:             window.To,
		Count:          n,
	}
	if n > 0 {
		report.AvgValue = aggregation.SanitizeFloat(sumX / float64(n))
		report.StdDevValue = aggregation.SanitizeFloat(aggregation.WindowStdDev(n, sumX, sumX2))
	}
	return report, nil
}

func (s *Service) installation(ctx context.Context, stationParamID int64) (*masterdata.StationParameter, error) {
	sp, err := s.installations.Get(ctx, stationParamID)
	if err != nil {
		return nil, err
	}
	if sp == nil {
		return nil, auth.ErrNotFound
	}
	if !auth.CanAccessSite(ctx, sp.SiteID) {
		return nil, auth.ErrSiteForbidden
	}
	return sp, nil
}

// ExportRow is one flat bucketed row for file exports.
type ExportRow struct {
	TimeBucket time.Time
	Station    string
	Parameter  string
	Unit       string
	Avg        *float64
	StdDev     *float64
	Count      int64
}

// ExportMeta describes the export for summary sheets and headers.
type ExportMeta struct {
	SiteID      int64
	From        time.Time
	To          time.Time
	Bucket      string
	GeneratedAt time.Time
}

// StreamExport streams flat export rows through fn, resolving installation
// metadata up front so the per-row work is a map lookup.
func (s *Service) StreamExport(ctx context.Context, req SeriesRequest, fn func(ExportRow) error) (*ExportMeta, error) {
	if !auth.CanAccessSite(ctx, req.SiteID) {
		return nil, auth.ErrSiteForbidden
	}
	if !req.Width.IsValid() {
		return nil, aggregation.ErrInvalidBucketWidth
	}
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}

	installations, err := s.selectInstallations(ctx, req.SiteID, req.StationParamIDs)
	if err != nil {
		return nil, err
	}
	stationNames, err := s.stationNames(ctx, req.SiteID)
	if err != nil {
		return nil, err
	}

	meta := &ExportMeta{
		SiteID:      req.SiteID,
		From:        req.Window.From,
		To:          req.Window.To,
		Bucket:      string(req.Width),
		GeneratedAt: time.Now().UTC(),
	}
	if len(installations) == 0 {
		return meta, nil
	}

	byID := make(map[int64]masterdata.StationParameter, len(installations))
	ids := make([]int64, len(installations))
	for i, sp := range installations {
		byID[sp.ID] = sp
		ids[i] = sp.ID
	}

	err = s.timeseries.StreamSeries(ctx, ids, req.Window, req.Width, func(row aggpg.SeriesRow) error {
		sp := byID[row.StationParamID]
		return fn(ExportRow{
			TimeBucket: row.Bucket,
			Station:    stationNames[sp.StationID],
			Parameter:  sp.ParameterName,
			Unit:       sp.Unit,
			Avg:        aggregation.SanitizeFloat(row.Avg),
			StdDev:     aggregation.SanitizePtr(row.StdDev),
			Count:      row.Count,
		})
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// CollectExport materializes export rows for the workbook and PDF formats.
func (s *Service) CollectExport(ctx context.Context, req SeriesRequest) (*ExportMeta, []ExportRow, error) {
	var rows []ExportRow
	meta, err := s.StreamExport(ctx, req, func(row ExportRow) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return meta, rows, nil
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}
