package auth

import (
	"context"
	"database/sql"
	"errors"

	masterdatarepo "cems-cloud/internal/masterdata/infrastructure/postgres"
)

var (
	// ErrSiteForbidden indicates the user may not read the site.
	ErrSiteForbidden = errors.New("site access forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// SiteAccessChecker validates station-to-site ownership for scoped requests.
type SiteAccessChecker interface {
	EnsureStationSite(ctx context.Context, siteID, stationID int64) error
}

// StationChecker checks station ownership using masterdata.
type StationChecker struct {
	repo *masterdatarepo.StationRepository
}

// NewStationChecker constructs a StationChecker.
func NewStationChecker(db *sql.DB) *StationChecker {
	if db == nil {
		return nil
	}
	return &StationChecker{repo: masterdatarepo.NewStationRepository(db)}
}

// EnsureStationSite verifies the station belongs to the site.
func (c *StationChecker) EnsureStationSite(ctx context.Context, siteID, stationID int64) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if siteID == 0 || stationID == 0 {
		return nil
	}
	station, err := c.repo.Get(ctx, stationID)
	if err != nil {
		return err
	}
	if station == nil {
		return ErrNotFound
	}
	if station.SiteID != siteID {
		return ErrSiteForbidden
	}
	return nil
}
