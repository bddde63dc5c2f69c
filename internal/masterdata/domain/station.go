package masterdata

import (
	"context"
	"errors"
	"time"
)

// Station is a monitoring point inside a site.
type Station struct {
	ID                int64
	SiteID            int64
	StationUID        string
	Name              string
	CalibrationFrom   *time.Time
	CalibrationTo     *time.Time
	CalibrationExpiry *time.Time
	CreatedAt         time.Time
	CreatedBy         int64
	UpdatedAt         time.Time
	UpdatedBy         int64
}

// Validate checks station invariants.
func (s Station) Validate() error {
	if s.SiteID == 0 {
		return errors.New("station: empty site id")
	}
	if s.Name == "" {
		return errors.New("station: empty name")
	}
	return nil
}

// CalibrationExpired reports whether live values from this station must be
// suppressed. Historical rows stay queryable; only latest-value displays go
// null.
func (s Station) CalibrationExpired(now time.Time) bool {
	return s.CalibrationExpiry != nil && s.CalibrationExpiry.Before(now)
}

// StationRepository manages station persistence.
type StationRepository interface {
	Get(ctx context.Context, id int64) (*Station, error)
	ListBySite(ctx context.Context, siteID int64) ([]Station, error)
	Save(ctx context.Context, station *Station) error
	UpdateCalibration(ctx context.Context, stationID int64, from, to, expiry time.Time) error
}
