package masterdata

import (
	"context"
	"errors"
	"time"
)

// MonitoringType classifies a parameter (ambient, effluent, emission).
type MonitoringType struct {
	ID   int64
	Name string
}

// Validate checks monitoring type invariants.
func (mt MonitoringType) Validate() error {
	if mt.Name == "" {
		return errors.New("monitoring type: empty name")
	}
	return nil
}

// Parameter is an abstract measured quantity with default thresholds. The
// enforced operational threshold lives on the StationParameter.
type Parameter struct {
	ID               int64
	UUID             string
	Name             string
	Label            string
	Unit             string
	MinThreshold     *float64
	MaxThreshold     *float64
	MonitoringTypeID *int64
	CreatedAt        time.Time
	CreatedBy        int64
	UpdatedAt        time.Time
	UpdatedBy        int64
}

// Validate checks parameter invariants.
func (p Parameter) Validate() error {
	if p.Name == "" {
		return errors.New("parameter: empty name")
	}
	return nil
}

// Analyser is the measuring instrument model.
type Analyser struct {
	ID               int64
	Name             string
	UID              string
	Make             string
	Model            string
	MonitoringTypeID *int64
}

// Validate checks analyser invariants.
func (a Analyser) Validate() error {
	if a.Name == "" {
		return errors.New("analyser: empty name")
	}
	return nil
}

// ParameterRepository manages parameters, analysers and monitoring types.
type ParameterRepository interface {
	GetParameter(ctx context.Context, id int64) (*Parameter, error)
	ListParameters(ctx context.Context) ([]Parameter, error)
	SaveParameter(ctx context.Context, p *Parameter) error
	ListMonitoringTypes(ctx context.Context) ([]MonitoringType, error)
	SaveMonitoringType(ctx context.Context, mt *MonitoringType) error
	ListAnalysers(ctx context.Context) ([]Analyser, error)
	SaveAnalyser(ctx context.Context, a *Analyser) error
}
