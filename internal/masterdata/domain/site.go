package masterdata

import (
	"context"
	"errors"
	"time"
)

// Site is a physical facility under monitoring.
type Site struct {
	ID         int64
	SiteUID    string
	Name       string
	Address    string
	City       string
	State      string
	Latitude   *float64
	Longitude  *float64
	GroupID    *int64
	GroupName  string
	AuthKey    string
	AuthExpiry *time.Time
	CreatedAt  time.Time
	CreatedBy  int64
	UpdatedAt  time.Time
	UpdatedBy  int64
}

// Validate checks site invariants.
func (s Site) Validate() error {
	if s.SiteUID == "" {
		return errors.New("site: empty uid")
	}
	if s.Name == "" {
		return errors.New("site: empty name")
	}
	return nil
}

// Active reports whether the site's authorization is still valid. A site
// without an expiry is treated as active.
func (s Site) Active(now time.Time) bool {
	if s.AuthExpiry == nil {
		return true
	}
	return now.Before(*s.AuthExpiry)
}

// SiteRepository manages site persistence.
type SiteRepository interface {
	Get(ctx context.Context, id int64) (*Site, error)
	List(ctx context.Context) ([]Site, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Site, error)
	Save(ctx context.Context, site *Site) error
}
