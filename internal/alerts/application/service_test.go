package application

import (
	"context"
	"testing"
	"time"

	alerts "cems-cloud/internal/alerts/domain"
	"cems-cloud/internal/auth"
	masterdata "cems-cloud/internal/masterdata/domain"
	telemetry "cems-cloud/internal/telemetry/domain"
)

type memAlertRepo struct {
	alerts map[string]alerts.Alert
}

func newMemAlertRepo() *memAlertRepo {
	return &memAlertRepo{alerts: make(map[string]alerts.Alert)}
}

func (m *memAlertRepo) Insert(_ context.Context, alert *alerts.Alert) error {
	m.alerts[alert.ID] = *alert
	return nil
}

func (m *memAlertRepo) GetByID(_ context.Context, id string) (*alerts.Alert, error) {
	if alert, ok := m.alerts[id]; ok {
		return &alert, nil
	}
	return nil, nil
}

func (m *memAlertRepo) FindOpen(_ context.Context, stationParamID int64, kind string) (*alerts.Alert, error) {
	for _, alert := range m.alerts {
		if alert.StationParamID == stationParamID && alert.Kind == kind && alert.Status == alerts.StatusOpen {
			found := alert
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memAlertRepo) Update(_ context.Context, alert *alerts.Alert) error {
	if _, ok := m.alerts[alert.ID]; !ok {
		return alerts.ErrNotFound
	}
	m.alerts[alert.ID] = *alert
	return nil
}

func (m *memAlertRepo) List(_ context.Context, siteID int64, status string, from, to time.Time) ([]alerts.Alert, error) {
	var out []alerts.Alert
	for _, alert := range m.alerts {
		if alert.SiteID != siteID {
			continue
		}
		if status != "" && alert.Status != status {
			continue
		}
		out = append(out, alert)
	}
	return out, nil
}

type staticLimits map[int64]masterdata.StationParameter

func (s staticLimits) Get(_ context.Context, id int64) (*masterdata.StationParameter, error) {
	if sp, ok := s[id]; ok {
		return &sp, nil
	}
	return nil, nil
}

type capturingNotifier struct {
	events []AlertEvent
}

func (c *capturingNotifier) Notify(_ context.Context, event AlertEvent) {
	c.events = append(c.events, event)
}

func lowerBound(v float64) *float64 { return &v }

func newAlertService(t *testing.T) (*Service, *memAlertRepo, *capturingNotifier) {
	t.Helper()
	repo := newMemAlertRepo()
	notifier := &capturingNotifier{}
	limits := staticLimits{
		10: {ID: 10, SiteID: 1, ParameterName: "pm", Threshold: 50, Unit: "mg/Nm3"},
		11: {ID: 11, SiteID: 1, ParameterName: "flow", Threshold: 100, LowerBound: lowerBound(5)},
	}
	service, err := NewService(repo, limits, notifier, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, repo, notifier
}

func reading(installation int64, value float64) telemetry.Reading {
	return telemetry.Reading{
		SiteID:         1,
		StationParamID: installation,
		At:             time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
		Value:          value,
	}
}

func TestEvaluate_RaisesAboveThreshold(t *testing.T) {
	service, repo, notifier := newAlertService(t)

	service.Evaluate(context.Background(), []telemetry.Reading{reading(10, 55)})

	if len(repo.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(repo.alerts))
	}
	for _, alert := range repo.alerts {
		if alert.Kind != alerts.KindAboveThreshold {
			t.Fatalf("expected above_threshold kind, got %q", alert.Kind)
		}
		if alert.Value != 55 || alert.Limit != 50 {
			t.Fatalf("unexpected alert values: %+v", alert)
		}
		if alert.Status != alerts.StatusOpen {
			t.Fatalf("expected open status, got %q", alert.Status)
		}
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != "raised" {
		t.Fatalf("expected one raised event, got %+v", notifier.events)
	}
}

func TestEvaluate_ValueAtThresholdNotFlagged(t *testing.T) {
	service, repo, _ := newAlertService(t)

	service.Evaluate(context.Background(), []telemetry.Reading{reading(10, 50)})

	if len(repo.alerts) != 0 {
		t.Fatalf("expected no alerts at exactly the threshold, got %d", len(repo.alerts))
	}
}

func TestEvaluate_BelowLowerBound(t *testing.T) {
	service, repo, _ := newAlertService(t)

	service.Evaluate(context.Background(), []telemetry.Reading{reading(11, 2)})

	if len(repo.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(repo.alerts))
	}
	for _, alert := range repo.alerts {
		if alert.Kind != alerts.KindBelowLower {
			t.Fatalf("expected below_lower_bound kind, got %q", alert.Kind)
		}
	}
}

func TestEvaluate_NoLowerBoundNeverFlagsLow(t *testing.T) {
	service, repo, _ := newAlertService(t)

	// Installation 10 has no lower bound; a tiny value is fine.
	service.Evaluate(context.Background(), []telemetry.Reading{reading(10, 0.001)})

	if len(repo.alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(repo.alerts))
	}
}

func TestEvaluate_OpenAlertNotDuplicated(t *testing.T) {
	repo := newMemAlertRepo()
	notifier := &capturingNotifier{}
	limits := staticLimits{10: {ID: 10, SiteID: 1, ParameterName: "pm", Threshold: 50}}
	service, err := NewService(repo, limits, notifier, nil, WithCooldown(time.Nanosecond))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	service.Evaluate(context.Background(), []telemetry.Reading{reading(10, 55)})
	time.Sleep(time.Millisecond)
	service.Evaluate(context.Background(), []telemetry.Reading{reading(10, 60)})

	if len(repo.alerts) != 1 {
		t.Fatalf("expected the open alert to suppress a duplicate, got %d", len(repo.alerts))
	}
}

func TestAckThenClear(t *testing.T) {
	service, repo, notifier := newAlertService(t)
	ctx := auth.WithIdentity(context.Background(), 7, auth.RoleOperator, "7", []int64{1})

	service.Evaluate(ctx, []telemetry.Reading{reading(10, 55)})
	var id string
	for _, alert := range repo.alerts {
		id = alert.ID
	}

	acked, err := service.AckAlert(ctx, id)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if acked.Status != alerts.StatusAcked || acked.AckedBy != "7" {
		t.Fatalf("unexpected acked alert: %+v", acked)
	}

	cleared, err := service.ClearAlert(ctx, id)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Status != alerts.StatusCleared || cleared.ClearedAt == nil {
		t.Fatalf("unexpected cleared alert: %+v", cleared)
	}

	if len(notifier.events) != 3 {
		t.Fatalf("expected raised+acked+cleared events, got %d", len(notifier.events))
	}
}

func TestAck_ForbiddenForUnassignedSite(t *testing.T) {
	service, repo, _ := newAlertService(t)
	opCtx := auth.WithIdentity(context.Background(), 7, auth.RoleOperator, "7", []int64{1})
	service.Evaluate(opCtx, []telemetry.Reading{reading(10, 55)})
	var id string
	for _, alert := range repo.alerts {
		id = alert.ID
	}

	outsider := auth.WithIdentity(context.Background(), 9, auth.RoleOperator, "9", []int64{2})
	if _, err := service.AckAlert(outsider, id); err != auth.ErrSiteForbidden {
		t.Fatalf("expected site forbidden, got %v", err)
	}
}
