package reportshttp

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	aggregation "cems-cloud/internal/aggregation"
	aggpg "cems-cloud/internal/aggregation/infrastructure/postgres"
	"cems-cloud/internal/auth"
	masterdata "cems-cloud/internal/masterdata/domain"
	"cems-cloud/internal/reports/application"
)

type stubTimeseries struct {
	series []aggpg.SeriesRow
}

func (s *stubTimeseries) QuerySeries(context.Context, []int64, aggregation.Window, aggregation.BucketWidth) ([]aggpg.SeriesRow, error) {
	return s.series, nil
}

func (s *stubTimeseries) StreamSeries(_ context.Context, _ []int64, _ aggregation.Window, _ aggregation.BucketWidth, fn func(aggpg.SeriesRow) error) error {
	for _, row := range s.series {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubTimeseries) QueryDailyCounts(context.Context, int64, aggregation.Window) ([]aggpg.DayCount, error) {
	return nil, nil
}

func (s *stubTimeseries) QueryDailyExceedance(context.Context, int64, float64, float64, aggregation.Window) ([]aggpg.ExceedanceDayRow, error) {
	return nil, nil
}

func (s *stubTimeseries) WindowMoments(context.Context, int64, aggregation.Window) (int64, float64, float64, error) {
	return 8, 40, 232, nil
}

type stubInstallations struct{}

func (stubInstallations) Get(context.Context, int64) (*masterdata.StationParameter, error) {
	return &masterdata.StationParameter{ID: 100, StationID: 10, SiteID: 1, ParameterName: "pm", Threshold: 50, SamplingIntervalSeconds: 60}, nil
}

func (stubInstallations) ListBySite(context.Context, int64) ([]masterdata.StationParameter, error) {
	return []masterdata.StationParameter{
		{ID: 100, StationID: 10, SiteID: 1, ParameterName: "pm", ParameterLabel: "PM", MonitoringTypeName: "emission", Threshold: 50, Unit: "mg/Nm3", SamplingIntervalSeconds: 60},
	}, nil
}

type stubStations struct{}

func (stubStations) ListBySite(context.Context, int64) ([]masterdata.Station, error) {
	return []masterdata.Station{{ID: 10, SiteID: 1, Name: "Stack 1"}}, nil
}

func newTestService(t *testing.T, ts *stubTimeseries) *application.Service {
	t.Helper()
	cfg := aggregation.Config{Timezone: "UTC", RefreshInterval: 5 * time.Minute, BucketTolerance: 1.10}
	svc, err := application.NewService(ts, stubInstallations{}, stubStations{}, cfg, log.New(new(strings.Builder), "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func viewerRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	ctx := auth.WithIdentity(req.Context(), 3, auth.RoleViewer, "viewer@example.com", []int64{1})
	return req.WithContext(ctx)
}

func TestSeriesEndpoint_ReturnsGroupedJSON(t *testing.T) {
	bucket := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	ts := &stubTimeseries{series: []aggpg.SeriesRow{{StationParamID: 100, Bucket: bucket, Avg: 42.5, Count: 15}}}
	handler, err := NewHandler(newTestService(t, ts))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/reports/series?site_id=1&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z&bucket=15min"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report application.SeriesReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(report.Groups) != 1 || report.Groups[0].MonitoringType != "emission" {
		t.Fatalf("unexpected groups: %+v", report.Groups)
	}
}

func TestSeriesEndpoint_RejectsBadBucket(t *testing.T) {
	handler, err := NewHandler(newTestService(t, &stubTimeseries{}))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/reports/series?site_id=1&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z&bucket=7min"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid bucket, got %d", rec.Code)
	}
}

func TestSeriesEndpoint_RejectsInvertedWindow(t *testing.T) {
	handler, err := NewHandler(newTestService(t, &stubTimeseries{}))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/reports/series?site_id=1&from=2026-03-10T00:00:00Z&to=2026-03-09T00:00:00Z"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted window, got %d", rec.Code)
	}
}

func TestSummaryEndpoint_ReturnsWindowStatistics(t *testing.T) {
	handler, err := NewHandler(newTestService(t, &stubTimeseries{}))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/reports/summary?station_param_id=100&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report application.SummaryReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Count != 8 || report.AvgValue == nil || *report.AvgValue != 5 {
		t.Fatalf("unexpected summary: %+v", report)
	}
	if report.StdDevValue == nil || *report.StdDevValue != 2 {
		t.Fatalf("expected stddev 2, got %v", report.StdDevValue)
	}
}

func TestCSVExport_StreamsGzippedRows(t *testing.T) {
	bucket := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	ts := &stubTimeseries{series: []aggpg.SeriesRow{
		{StationParamID: 100, Bucket: bucket, Avg: 42.5, Count: 15},
		{StationParamID: 100, Bucket: bucket.Add(15 * time.Minute), Avg: 43.1, Count: 15},
	}}
	handler, err := NewExportHandler(newTestService(t, ts), log.New(new(strings.Builder), "", 0))
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/exports/sensor-data.csv.gz?site_id=1&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/gzip" {
		t.Fatalf("expected application/gzip, got %s", got)
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	records, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if records[0][0] != "time_bucket" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][1] != "Stack 1" || records[1][2] != "pm" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
}

func TestCSVExport_EmptyResultStillWritesHeader(t *testing.T) {
	handler, err := NewExportHandler(newTestService(t, &stubTimeseries{}), log.New(new(strings.Builder), "", 0))
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/exports/sensor-data.csv.gz?site_id=1&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z"))

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	records, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected lone header, got %d records", len(records))
	}
}

func TestXLSXExport_RendersWorkbook(t *testing.T) {
	bucket := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	ts := &stubTimeseries{series: []aggpg.SeriesRow{{StationParamID: 100, Bucket: bucket, Avg: 42.5, Count: 15}}}
	handler, err := NewExportHandler(newTestService(t, ts), log.New(new(strings.Builder), "", 0))
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/exports/sensor-data.xlsx?site_id=1&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected workbook bytes")
	}
}

func TestPDFExport_RendersDocument(t *testing.T) {
	bucket := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	ts := &stubTimeseries{series: []aggpg.SeriesRow{{StationParamID: 100, Bucket: bucket, Avg: 42.5, Count: 15}}}
	handler, err := NewExportHandler(newTestService(t, ts), log.New(new(strings.Builder), "", 0))
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, viewerRequest(t, "/api/v1/exports/sensor-data.pdf?site_id=1&from=2026-03-09T00:00:00Z&to=2026-03-10T00:00:00Z"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Fatalf("expected PDF magic bytes")
	}
}
