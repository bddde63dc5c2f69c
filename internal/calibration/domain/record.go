package calibration

import (
	"context"
	"errors"
	"time"
)

// Record is one applied calibration window for a station.
type Record struct {
	ID        string
	StationID int64
	SiteID    int64
	From      time.Time
	To        time.Time
	Expiry    time.Time
	CreatedBy int64
	CreatedAt time.Time
}

// Validate checks window ordering.
func (r Record) Validate() error {
	if r.StationID == 0 {
		return errors.New("calibration: empty station id")
	}
	if !r.To.After(r.From) {
		return errors.New("calibration: window end must be after start")
	}
	if !r.Expiry.After(r.To) {
		return errors.New("calibration: expiry must be after window end")
	}
	return nil
}

// HistoryRepository persists applied calibration windows.
type HistoryRepository interface {
	Insert(ctx context.Context, record *Record) error
	ListByStation(ctx context.Context, stationID int64) ([]Record, error)
}
