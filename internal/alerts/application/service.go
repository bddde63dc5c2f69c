package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cems-cloud/internal/aggregation"
	alerts "cems-cloud/internal/alerts/domain"
	"cems-cloud/internal/auth"
	masterdata "cems-cloud/internal/masterdata/domain"
	"cems-cloud/internal/observability/metrics"
	telemetry "cems-cloud/internal/telemetry/domain"
)

// AlertEvent is a lifecycle notification.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Notifier receives alert lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// LimitReader loads installation limits for evaluation.
type LimitReader interface {
	Get(ctx context.Context, id int64) (*masterdata.StationParameter, error)
}

// Service evaluates readings against installation limits and manages the
// alert lifecycle.
type Service struct {
	repo     alerts.AlertRepository
	limits   LimitReader
	notifier Notifier
	logger   *log.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	cooldown time.Duration
}

// Option configures the service.
type Option func(*Service)

// WithCooldown sets the minimum interval between repeat alerts for the same
// installation and kind.
func WithCooldown(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.cooldown = interval
		}
	}
}

// NewService constructs an alert service.
func NewService(repo alerts.AlertRepository, limits LimitReader, notifier Notifier, logger *log.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alert service: nil repository")
	}
	if limits == nil {
		return nil, errors.New("alert service: nil limit reader")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		repo:     repo,
		limits:   limits,
		notifier: notifier,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
		cooldown: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Evaluate checks a reading batch. Evaluation errors are logged, never
// returned, so ingest latency and success are unaffected.
func (s *Service) Evaluate(ctx context.Context, readings []telemetry.Reading) {
	if s == nil {
		return
	}
	limitCache := make(map[int64]*masterdata.StationParameter, len(readings))
	for _, reading := range readings {
		sp, ok := limitCache[reading.StationParamID]
		if !ok {
			loaded, err := s.limits.Get(ctx, reading.StationParamID)
			if err != nil {
				s.logger.Printf("alerts: limit lookup for installation %d: %v", reading.StationParamID, err)
				continue
			}
			sp = loaded
			limitCache[reading.StationParamID] = sp
		}
		if sp == nil {
			continue
		}

		limits := aggregation.Limits{Threshold: sp.Threshold, LowerBound: sp.LowerBound}
		if exc := limits.EvaluateRaw(reading.Value); exc.Exceeded {
			s.raise(ctx, reading, sp, alerts.KindAboveThreshold, limits.Threshold)
		}
		if exc := limits.EvaluateBelow(reading.Value); exc.Exceeded {
			s.raise(ctx, reading, sp, alerts.KindBelowLower, *limits.LowerBound)
		}
	}
}

func (s *Service) raise(ctx context.Context, reading telemetry.Reading, sp *masterdata.StationParameter, kind string, limit float64) {
	key := fmt.Sprintf("%d/%s", reading.StationParamID, kind)
	now := time.Now().UTC()

	s.mu.Lock()
	if last, ok := s.lastSeen[key]; ok && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		return
	}
	s.lastSeen[key] = now
	s.mu.Unlock()

	open, err := s.repo.FindOpen(ctx, reading.StationParamID, kind)
	if err != nil {
		s.logger.Printf("alerts: open lookup for installation %d: %v", reading.StationParamID, err)
		return
	}
	if open != nil {
		return
	}

	alert := alerts.Alert{
		ID:             uuid.NewString(),
		SiteID:         reading.SiteID,
		StationParamID: reading.StationParamID,
		ParameterName:  sp.ParameterName,
		Value:          reading.Value,
		Limit:          limit,
		Kind:           kind,
		Status:         alerts.StatusOpen,
		Message:        alertMessage(sp, reading.Value, limit, kind),
		RaisedAt:       reading.At.UTC(),
	}
	if err := s.repo.Insert(ctx, &alert); err != nil {
		s.logger.Printf("alerts: insert for installation %d: %v", reading.StationParamID, err)
		return
	}
	metrics.IncAlertEvent("raised")
	s.notify(ctx, AlertEvent{Type: "raised", Alert: alert})
}

// AckAlert marks an open alert acknowledged.
func (s *Service) AckAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != alerts.StatusOpen {
		return nil, fmt.Errorf("alert service: alert %s is %s", id, alert.Status)
	}
	now := time.Now().UTC()
	alert.Status = alerts.StatusAcked
	alert.AckedAt = &now
	alert.AckedBy = auth.SubjectFromContext(ctx)
	if err := s.repo.Update(ctx, alert); err != nil {
		return nil, err
	}
	metrics.IncAlertEvent("acked")
	s.notify(ctx, AlertEvent{Type: "acked", Alert: *alert})
	return alert, nil
}

// ClearAlert closes an open or acknowledged alert.
func (s *Service) ClearAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.loadScoped(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == alerts.StatusCleared {
		return nil, fmt.Errorf("alert service: alert %s already cleared", id)
	}
	now := time.Now().UTC()
	alert.Status = alerts.StatusCleared
	alert.ClearedAt = &now
	if err := s.repo.Update(ctx, alert); err != nil {
		return nil, err
	}
	metrics.IncAlertEvent("cleared")
	s.notify(ctx, AlertEvent{Type: "cleared", Alert: *alert})
	return alert, nil
}

// ListAlerts returns alerts of a site in a window, newest first.
func (s *Service) ListAlerts(ctx context.Context, siteID int64, status string, from, to time.Time) ([]alerts.Alert, error) {
	if !auth.CanAccessSite(ctx, siteID) {
		return nil, auth.ErrSiteForbidden
	}
	return s.repo.List(ctx, siteID, status, from, to)
}

func (s *Service) loadScoped(ctx context.Context, id string) (*alerts.Alert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	if !auth.CanAccessSite(ctx, alert.SiteID) {
		return nil, auth.ErrSiteForbidden
	}
	return alert, nil
}

func (s *Service) notify(ctx context.Context, event AlertEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event)
}

func alertMessage(sp *masterdata.StationParameter, value, limit float64, kind string) string {
	name := sp.ParameterLabel
	if name == "" {
		name = sp.ParameterName
	}
	unit := sp.Unit
	if unit != "" {
		unit = " " + unit
	}
	if kind == alerts.KindBelowLower {
		return fmt.Sprintf("%s at %.2f%s below lower bound %.2f%s", name, value, unit, limit, unit)
	}
	return fmt.Sprintf("%s at %.2f%s above threshold %.2f%s", name, value, unit, limit, unit)
}
