package masterdata

import (
	"context"
	"errors"
)

// Device is a field data logger attached to a site. DeviceUID names the MQTT
// topics the logger listens on and AuthKey is the shared secret used for both
// ingest signing and calibration payload encryption.
type Device struct {
	ID        int64
	SiteID    int64
	DeviceUID string
	AuthKey   string
	Active    bool
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.DeviceUID == "" {
		return errors.New("device: empty uid")
	}
	if d.SiteID == 0 {
		return errors.New("device: empty site id")
	}
	return nil
}

// DeviceRepository manages data logger records.
type DeviceRepository interface {
	GetByUID(ctx context.Context, uid string) (*Device, error)
	ListBySite(ctx context.Context, siteID int64) ([]Device, error)
	Save(ctx context.Context, d *Device) error
}
