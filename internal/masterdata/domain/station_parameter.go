package masterdata

import (
	"context"
	"errors"
)

// StationParameter is an installation: one parameter measured by one analyser
// at one station. It is the unit of account for availability and exceedance.
type StationParameter struct {
	ID                      int64
	StationID               int64
	SiteID                  int64
	AnalyserID              *int64
	ParameterID             int64
	ParameterName           string
	ParameterLabel          string
	MonitoringTypeID        *int64
	MonitoringTypeName      string
	Threshold               float64
	LowerBound              *float64
	Unit                    string
	SamplingIntervalSeconds int
	Editable                bool
}

// Validate checks installation invariants.
func (sp StationParameter) Validate() error {
	if sp.StationID == 0 {
		return errors.New("station parameter: empty station id")
	}
	if sp.ParameterID == 0 {
		return errors.New("station parameter: empty parameter id")
	}
	if sp.SamplingIntervalSeconds < 0 {
		return errors.New("station parameter: negative sampling interval")
	}
	return nil
}

// StationParameterRepository manages installations.
type StationParameterRepository interface {
	Get(ctx context.Context, id int64) (*StationParameter, error)
	ListBySite(ctx context.Context, siteID int64) ([]StationParameter, error)
	ListByStation(ctx context.Context, stationID int64) ([]StationParameter, error)
	Save(ctx context.Context, sp *StationParameter) error
	UpdateThreshold(ctx context.Context, id int64, threshold float64, lowerBound *float64) error
}
