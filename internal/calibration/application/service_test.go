package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"cems-cloud/internal/auth"
	calibration "cems-cloud/internal/calibration/domain"
	masterdata "cems-cloud/internal/masterdata/domain"
)

type fakeStationRepo struct {
	stations map[int64]*masterdata.Station
	updated  []int64
}

func (f *fakeStationRepo) Get(_ context.Context, id int64) (*masterdata.Station, error) {
	return f.stations[id], nil
}

func (f *fakeStationRepo) ListBySite(context.Context, int64) ([]masterdata.Station, error) {
	return nil, nil
}

func (f *fakeStationRepo) Save(context.Context, *masterdata.Station) error { return nil }

func (f *fakeStationRepo) UpdateCalibration(_ context.Context, stationID int64, from, to, expiry time.Time) error {
	station, ok := f.stations[stationID]
	if !ok {
		return errors.New("station not found")
	}
	station.CalibrationFrom = &from
	station.CalibrationTo = &to
	station.CalibrationExpiry = &expiry
	f.updated = append(f.updated, stationID)
	return nil
}

type fakeDeviceRepo struct {
	devices []masterdata.Device
}

func (f *fakeDeviceRepo) GetByUID(context.Context, string) (*masterdata.Device, error) {
	return nil, nil
}

func (f *fakeDeviceRepo) ListBySite(_ context.Context, siteID int64) ([]masterdata.Device, error) {
	var out []masterdata.Device
	for _, d := range f.devices {
		if d.SiteID == siteID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeviceRepo) Save(context.Context, *masterdata.Device) error { return nil }

type memHistoryRepo struct {
	records []calibration.Record
}

func (m *memHistoryRepo) Insert(_ context.Context, record *calibration.Record) error {
	m.records = append(m.records, *record)
	return nil
}

func (m *memHistoryRepo) ListByStation(_ context.Context, stationID int64) ([]calibration.Record, error) {
	var out []calibration.Record
	for _, r := range m.records {
		if r.StationID == stationID {
			out = append(out, r)
		}
	}
	return out, nil
}

type publishedMessage struct {
	topic   string
	payload []byte
}

type capturingPublisher struct {
	messages []publishedMessage
}

func (c *capturingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	c.messages = append(c.messages, publishedMessage{topic: topic, payload: payload})
	return nil
}

func testWindow() Window {
	from := time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC)
	return Window{From: from, To: from.Add(2 * time.Hour), Expiry: from.Add(90 * 24 * time.Hour)}
}

func newCalibrationFixture(t *testing.T) (*Service, *fakeStationRepo, *memHistoryRepo, *capturingPublisher) {
	t.Helper()
	stations := &fakeStationRepo{stations: map[int64]*masterdata.Station{
		10: {ID: 10, SiteID: 1, StationUID: "stack-1", Name: "Stack 1"},
	}}
	devices := &fakeDeviceRepo{devices: []masterdata.Device{
		{ID: 1, SiteID: 1, DeviceUID: "DL-001", AuthKey: "logger-secret", Active: true},
		{ID: 2, SiteID: 1, DeviceUID: "DL-002", AuthKey: "other-secret", Active: false},
		{ID: 3, SiteID: 2, DeviceUID: "DL-900", AuthKey: "elsewhere", Active: true},
	}}
	history := &memHistoryRepo{}
	publisher := &capturingPublisher{}
	svc, err := NewService(stations, devices, history, publisher, nil, log.New(new(strings.Builder), "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, stations, history, publisher
}

func operatorCtx() context.Context {
	return auth.WithIdentity(context.Background(), 7, auth.RoleOperator, "ops@example.com", []int64{1})
}

func TestApplyCalibration_PersistsAndPushes(t *testing.T) {
	svc, stations, history, publisher := newCalibrationFixture(t)
	window := testWindow()

	result, err := svc.ApplyCalibration(operatorCtx(), 10, window)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	record := result.Record
	if record.SiteID != 1 || record.StationID != 10 {
		t.Fatalf("expected record scoped to station 10 site 1, got %+v", record)
	}
	if record.CreatedBy != 7 {
		t.Fatalf("expected created_by 7, got %d", record.CreatedBy)
	}
	if len(stations.updated) != 1 || stations.updated[0] != 10 {
		t.Fatalf("expected station 10 calibration update, got %v", stations.updated)
	}
	if len(history.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history.records))
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected push to the one active site device, got %d", len(publisher.messages))
	}
	if publisher.messages[0].topic != "DL-001_IN" {
		t.Fatalf("expected topic DL-001_IN, got %s", publisher.messages[0].topic)
	}
	if len(result.Topics) != 1 || result.Topics[0] != "DL-001_IN" {
		t.Fatalf("expected result to echo pushed topic, got %v", result.Topics)
	}
}

func TestApplyCalibration_PayloadDecryptsWithDeviceKey(t *testing.T) {
	svc, _, _, publisher := newCalibrationFixture(t)

	if _, err := svc.ApplyCalibration(operatorCtx(), 10, testWindow()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected one push, got %d", len(publisher.messages))
	}

	plain, err := calibration.Decrypt(calibration.DeriveKey("logger-secret"), string(publisher.messages[0].payload))
	if err != nil {
		t.Fatalf("decrypt with device key: %v", err)
	}
	var payload struct {
		StationUID string `json:"station_uid"`
		CalibFrom  string `json:"calib_from"`
		CalibTo    string `json:"calib_to"`
	}
	if err := json.Unmarshal(plain, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.StationUID != "stack-1" {
		t.Fatalf("expected station_uid stack-1, got %s", payload.StationUID)
	}
	if payload.CalibFrom != "2026-03-09T06:00:00Z" {
		t.Fatalf("expected window start, got %s", payload.CalibFrom)
	}
	if payload.CalibTo != "2026-03-09T08:00:00Z" {
		t.Fatalf("expected window end, got %s", payload.CalibTo)
	}
}

func TestApplyCalibration_RejectsInvertedWindow(t *testing.T) {
	svc, stations, history, _ := newCalibrationFixture(t)
	window := testWindow()
	window.To = window.From.Add(-time.Minute)

	if _, err := svc.ApplyCalibration(operatorCtx(), 10, window); err == nil {
		t.Fatalf("expected window validation error")
	}
	if len(stations.updated) != 0 || len(history.records) != 0 {
		t.Fatalf("expected no writes for invalid window")
	}
}

func TestApplyCalibration_ForbiddenForUnassignedSite(t *testing.T) {
	svc, _, _, publisher := newCalibrationFixture(t)
	ctx := auth.WithIdentity(context.Background(), 9, auth.RoleOperator, "other@example.com", []int64{2})

	if _, err := svc.ApplyCalibration(ctx, 10, testWindow()); !errors.Is(err, auth.ErrSiteForbidden) {
		t.Fatalf("expected site forbidden, got %v", err)
	}
	if len(publisher.messages) != 0 {
		t.Fatalf("expected no pushes, got %d", len(publisher.messages))
	}
}

func TestApplyCalibration_UnknownStation(t *testing.T) {
	svc, _, _, _ := newCalibrationFixture(t)

	if _, err := svc.ApplyCalibration(operatorCtx(), 999, testWindow()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListHistory_ScopedToStation(t *testing.T) {
	svc, _, history, _ := newCalibrationFixture(t)
	history.records = []calibration.Record{
		{ID: "cal-a", StationID: 10, SiteID: 1},
		{ID: "cal-b", StationID: 11, SiteID: 1},
	}

	records, err := svc.ListHistory(operatorCtx(), 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(records) != 1 || records[0].ID != "cal-a" {
		t.Fatalf("expected only station 10 records, got %+v", records)
	}
}
