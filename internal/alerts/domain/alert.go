package alerts

import (
	"context"
	"errors"
	"time"
)

// Alert kinds.
const (
	KindAboveThreshold = "above_threshold"
	KindBelowLower     = "below_lower_bound"
)

// Alert statuses.
const (
	StatusOpen    = "open"
	StatusAcked   = "acked"
	StatusCleared = "cleared"
)

// ErrNotFound indicates a missing alert.
var ErrNotFound = errors.New("alert not found")

// Alert records one threshold violation for an installation.
type Alert struct {
	ID             string
	SiteID         int64
	StationParamID int64
	ParameterName  string
	Value          float64
	Limit          float64
	Kind           string
	Status         string
	Message        string
	RaisedAt       time.Time
	AckedAt        *time.Time
	AckedBy        string
	ClearedAt      *time.Time
}

// Validate checks alert invariants.
func (a Alert) Validate() error {
	if a.SiteID == 0 {
		return errors.New("alert: empty site id")
	}
	if a.StationParamID == 0 {
		return errors.New("alert: empty installation id")
	}
	switch a.Kind {
	case KindAboveThreshold, KindBelowLower:
	default:
		return errors.New("alert: invalid kind")
	}
	return nil
}

// AlertRepository persists alerts.
type AlertRepository interface {
	Insert(ctx context.Context, alert *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	FindOpen(ctx context.Context, stationParamID int64, kind string) (*Alert, error)
	Update(ctx context.Context, alert *Alert) error
	List(ctx context.Context, siteID int64, status string, from, to time.Time) ([]Alert, error)
}
