package application

import (
	"context"
	"errors"
	"log"
	"time"

	aggregation "cems-cloud/internal/aggregation"
	aggpg "cems-cloud/internal/aggregation/infrastructure/postgres"
	"cems-cloud/internal/auth"
	masterdata "cems-cloud/internal/masterdata/domain"
)

// TimeseriesReader is the slice of the aggregate query layer the dashboard
// needs.
type TimeseriesReader interface {
	QuerySeries(ctx context.Context, stationParamIDs []int64, window aggregation.Window, width aggregation.BucketWidth) ([]aggpg.SeriesRow, error)
	QueryLatest(ctx context.Context, siteID int64) (map[int64]aggpg.LatestRow, error)
	QueryDailyCounts(ctx context.Context, stationParamID int64, window aggregation.Window) ([]aggpg.DayCount, error)
	QueryRawCount(ctx context.Context, siteID int64, since time.Time) (int64, error)
}

// MasterDataReader resolves the site, its stations, installations and
// devices.
type MasterDataReader interface {
	GetSite(ctx context.Context, siteID int64) (*masterdata.Site, error)
	ListStations(ctx context.Context, siteID int64) ([]masterdata.Station, error)
	ListInstallations(ctx context.Context, siteID int64) ([]masterdata.StationParameter, error)
	ListDevices(ctx context.Context, siteID int64) ([]masterdata.Device, error)
}

// Service assembles the per-site dashboard.
type Service struct {
	timeseries TimeseriesReader
	master     MasterDataReader
	cfg        aggregation.Config
	logger     *log.Logger
	now        func() time.Time
}

// NewService constructs a dashboard service.
func NewService(timeseries TimeseriesReader, master MasterDataReader, cfg aggregation.Config, logger *log.Logger) (*Service, error) {
	if timeseries == nil || master == nil {
		return nil, errors.New("dashboard service: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		timeseries: timeseries,
		master:     master,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SiteSummary carries the site header block.
type SiteSummary struct {
	ID         int64      `json:"id"`
	SiteUID    string     `json:"site_uid"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	GroupName  string     `json:"group_name"`
	AuthExpiry *time.Time `json:"auth_expiry"`
	Active     bool       `json:"active"`
}

// LatestValue is the newest reading of one installation. A stale calibration
// suppresses the value but the timestamp stays visible.
type LatestValue struct {
	Value *float64   `json:"value"`
	At    *time.Time `json:"at"`
}

// HourlySeries is the chart-ready 24h series of one installation.
type HourlySeries struct {
	XAxis []time.Time `json:"x_axis"`
	YAxis []*float64  `json:"y_axis"`
}

// ParameterPanel is the dashboard block for one installation.
type ParameterPanel struct {
	StationParamID int64        `json:"station_param_id"`
	StationID      int64        `json:"station_id"`
	Parameter      string       `json:"parameter"`
	Label          string       `json:"label"`
	Unit           string       `json:"unit"`
	Threshold      float64      `json:"threshold"`
	LowerBound     *float64     `json:"lower_bound"`
	Latest         *LatestValue `json:"latest"`
	Series         HourlySeries `json:"series"`
	Exceeding      bool         `json:"exceeding"`
	Availability   float64      `json:"availability_percentage"`
}

// SiteDashboard is the full dashboard response.
type SiteDashboard struct {
	Site             SiteSummary      `json:"site"`
	StationCount     int              `json:"station_count"`
	DeviceCount      int              `json:"device_count"`
	ReadingCount24h  int64            `json:"reading_count_24h"`
	ExceedingCount   int              `json:"exceeding_count"`
	SiteAvailability float64          `json:"site_availability_percentage"`
	Parameters       []ParameterPanel `json:"parameters"`
}

// Dashboard builds the site dashboard: header, per-installation 24h hourly
// series, latest values, exceedance flags and the unweighted site
// availability.
func (s *Service) Dashboard(ctx context.Context, siteID int64) (*SiteDashboard, error) {
	site, stations, installations, err := s.load(ctx, siteID)
	if err != nil {
		return nil, err
	}
	devices, err := s.master.ListDevices(ctx, siteID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	window := aggregation.Window{From: now.Add(-24 * time.Hour), To: now}

	latest, err := s.timeseries.QueryLatest(ctx, siteID)
	if err != nil {
		return nil, err
	}
	rawCount, err := s.timeseries.QueryRawCount(ctx, siteID, window.From)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(installations))
	for i, sp := range installations {
		ids[i] = sp.ID
	}
	var seriesRows []aggpg.SeriesRow
	if len(ids) > 0 {
		seriesRows, err = s.timeseries.QuerySeries(ctx, ids, window, aggregation.Bucket1Hour)
		if err != nil {
			return nil, err
		}
	}
	seriesByID := make(map[int64]HourlySeries)
	for _, row := range seriesRows {
		series := seriesByID[row.StationParamID]
		series.XAxis = append(series.XAxis, row.Bucket)
		series.YAxis = append(series.YAxis, aggregation.SanitizeFloat(row.Avg))
		seriesByID[row.StationParamID] = series
	}

	expiredStations := make(map[int64]bool, len(stations))
	for _, st := range stations {
		expiredStations[st.ID] = st.CalibrationExpired(now)
	}

	dashboard := &SiteDashboard{
		Site:            toSiteSummary(site, now),
		StationCount:    len(stations),
		DeviceCount:     len(devices),
		ReadingCount24h: rawCount,
	}

	var availabilities []aggregation.Availability
	for _, sp := range installations {
		panel := ParameterPanel{
			StationParamID: sp.ID,
			StationID:      sp.StationID,
			Parameter:      sp.ParameterName,
			Label:          sp.ParameterLabel,
			Unit:           sp.Unit,
			Threshold:      sp.Threshold,
			LowerBound:     sp.LowerBound,
			Series:         seriesByID[sp.ID],
		}
		if panel.Series.XAxis == nil {
			panel.Series = HourlySeries{XAxis: []time.Time{}, YAxis: []*float64{}}
		}

		if row, ok := latest[sp.ID]; ok {
			at := row.At
			lv := &LatestValue{At: &at}
			if !expiredStations[sp.StationID] {
				lv.Value = aggregation.SanitizeFloat(row.Value)
			}
			panel.Latest = lv
			if lv.Value != nil {
				limits := aggregation.Limits{Threshold: sp.Threshold, LowerBound: sp.LowerBound}
				panel.Exceeding = aggregation.Overall(limits.EvaluateRaw(*lv.Value), limits.EvaluateBelow(*lv.Value))
			}
		}
		if panel.Exceeding {
			dashboard.ExceedingCount++
		}

		avail := s.windowAvailability(ctx, sp, window)
		panel.Availability = avail.Percent
		availabilities = append(availabilities, avail)

		dashboard.Parameters = append(dashboard.Parameters, panel)
	}
	dashboard.SiteAvailability = aggregation.SiteAvailability(availabilities)
	return dashboard, nil
}

// Card is a latest-value tile.
type Card struct {
	StationParamID int64        `json:"station_param_id"`
	Parameter      string       `json:"parameter"`
	Label          string       `json:"label"`
	Unit           string       `json:"unit"`
	Threshold      float64      `json:"threshold"`
	LowerBound     *float64     `json:"lower_bound"`
	Latest         *LatestValue `json:"latest"`
	Exceeding      bool         `json:"exceeding"`
}

// Cards builds the latest-value card list for a site.
func (s *Service) Cards(ctx context.Context, siteID int64) ([]Card, error) {
	_, stations, installations, err := s.load(ctx, siteID)
	if err != nil {
		return nil, err
	}
	latest, err := s.timeseries.QueryLatest(ctx, siteID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiredStations := make(map[int64]bool, len(stations))
	for _, st := range stations {
		expiredStations[st.ID] = st.CalibrationExpired(now)
	}

	cards := make([]Card, 0, len(installations))
	for _, sp := range installations {
		card := Card{
			StationParamID: sp.ID,
			Parameter:      sp.ParameterName,
			Label:          sp.ParameterLabel,
			Unit:           sp.Unit,
			Threshold:      sp.Threshold,
			LowerBound:     sp.LowerBound,
		}
		if row, ok := latest[sp.ID]; ok {
			at := row.At
			lv := &LatestValue{At: &at}
			if !expiredStations[sp.StationID] {
				lv.Value = aggregation.SanitizeFloat(row.Value)
			}
			card.Latest = lv
			if lv.Value != nil {
				limits := aggregation.Limits{Threshold: sp.Threshold, LowerBound: sp.LowerBound}
				card.Exceeding = aggregation.Overall(limits.EvaluateRaw(*lv.Value), limits.EvaluateBelow(*lv.Value))
			}
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func (s *Service) load(ctx context.Context, siteID int64) (*masterdata.Site, []masterdata.Station, []masterdata.StationParameter, error) {
	if !auth.CanAccessSite(ctx, siteID) {
		return nil, nil, nil, auth.ErrSiteForbidden
	}
	site, err := s.master.GetSite(ctx, siteID)
	if err != nil {
		return nil, nil, nil, err
	}
	if site == nil {
		return nil, nil, nil, auth.ErrNotFound
	}
	stations, err := s.master.ListStations(ctx, siteID)
	if err != nil {
		return nil, nil, nil, err
	}
	installations, err := s.master.ListInstallations(ctx, siteID)
	if err != nil {
		return nil, nil, nil, err
	}
	return site, stations, installations, nil
}

// windowAvailability computes one installation's availability over the
// trailing window from the materialized daily counts. Count errors degrade to
// 0% rather than failing the whole dashboard.
func (s *Service) windowAvailability(ctx context.Context, sp masterdata.StationParameter, window aggregation.Window) aggregation.Availability {
	expected := aggregation.ExpectedCount(window.Seconds(), float64(sp.SamplingIntervalSeconds))
	counts, err := s.timeseries.QueryDailyCounts(ctx, sp.ID, window)
	if err != nil {
		s.logger.Printf("dashboard availability for installation %d: %v", sp.ID, err)
		return aggregation.ComputeAvailability(0, expected)
	}
	var actual int64
	for _, dc := range counts {
		actual += dc.Actual
	}
	return aggregation.ComputeAvailability(actual, expected)
}

func toSiteSummary(site *masterdata.Site, now time.Time) SiteSummary {
	return SiteSummary{
		ID:         site.ID,
		SiteUID:    site.SiteUID,
		Name:       site.Name,
		Address:    site.Address,
		City:       site.City,
		State:      site.State,
		Latitude:   site.Latitude,
		Longitude:  site.Longitude,
		GroupName:  site.GroupName,
		AuthExpiry: site.AuthExpiry,
		Active:     site.Active(now),
	}
}
