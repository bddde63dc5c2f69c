package telemetry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Reading is a raw sensor value written to storage.
type Reading struct {
	SiteID         int64
	StationParamID int64
	DeviceUID      string
	At             time.Time
	Value          float64
}

// Validate checks reading invariants. Non-finite values are rejected at the
// boundary so they never reach storage.
func (r Reading) Validate() error {
	if r.SiteID == 0 {
		return errors.New("reading: empty site id")
	}
	if r.StationParamID == 0 {
		return errors.New("reading: empty installation id")
	}
	if r.At.IsZero() {
		return errors.New("reading: zero timestamp")
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return errors.New("reading: non-finite value")
	}
	return nil
}

// ReadingRepository persists raw readings.
type ReadingRepository interface {
	InsertReadings(ctx context.Context, readings []Reading) error
}
