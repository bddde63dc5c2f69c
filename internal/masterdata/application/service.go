package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"cems-cloud/internal/audit"
	"cems-cloud/internal/auth"
	masterdata "cems-cloud/internal/masterdata/domain"
)

// Service coordinates master data commands. Writes record an audit entry
// attributed to the acting user from the request context.
type Service struct {
	sites       masterdata.SiteRepository
	stations    masterdata.StationRepository
	parameters  masterdata.ParameterRepository
	stationpars masterdata.StationParameterRepository
	devices     masterdata.DeviceRepository
	checker     auth.SiteAccessChecker
	auditor     audit.Logger
	logger      *log.Logger
}

// Option configures the service.
type Option func(*Service)

// WithStationChecker installs a station-to-site ownership check used when a
// write declares the site a station belongs to.
func WithStationChecker(checker auth.SiteAccessChecker) Option {
	return func(s *Service) { s.checker = checker }
}

// NewService constructs a master data service.
func NewService(
	sites masterdata.SiteRepository,
	stations masterdata.StationRepository,
	parameters masterdata.ParameterRepository,
	stationpars masterdata.StationParameterRepository,
	devices masterdata.DeviceRepository,
	auditor audit.Logger,
	logger *log.Logger,
	opts ...Option,
) (*Service, error) {
	if sites == nil || stations == nil || parameters == nil || stationpars == nil || devices == nil {
		return nil, errors.New("masterdata service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		sites:       sites,
		stations:    stations,
		parameters:  parameters,
		stationpars: stationpars,
		devices:     devices,
		auditor:     auditor,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetSite loads one site, enforcing site scoping.
func (s *Service) GetSite(ctx context.Context, siteID int64) (*masterdata.Site, error) {
	if !auth.CanAccessSite(ctx, siteID) {
		return nil, auth.ErrSiteForbidden
	}
	return s.sites.Get(ctx, siteID)
}

// ListSites returns the sites visible to the acting user. Admins see all
// sites, others only their assigned ones.
func (s *Service) ListSites(ctx context.Context) ([]masterdata.Site, error) {
	if auth.RoleFromContext(ctx) == auth.RoleAdmin {
		return s.sites.List(ctx)
	}
	ids := auth.SiteIDsFromContext(ctx)
	if len(ids) == 0 {
		return nil, nil
	}
	return s.sites.ListByIDs(ctx, ids)
}

// SaveSite validates and persists a site.
func (s *Service) SaveSite(ctx context.Context, site *masterdata.Site) error {
	if site == nil {
		return errors.New("masterdata service: nil site")
	}
	stampActor(ctx, &site.CreatedBy, &site.UpdatedBy)
	if err := site.Validate(); err != nil {
		return err
	}
	if err := s.sites.Save(ctx, site); err != nil {
		return err
	}
	s.recordAudit(ctx, site.ID, "site.save", "site", strconv.FormatInt(site.ID, 10), site)
	return nil
}

// UpdateSite loads a site and applies the mutable fields of update to it.
// The site uid is immutable; a blank auth key keeps the stored one.
func (s *Service) UpdateSite(ctx context.Context, siteID int64, update masterdata.Site) (*masterdata.Site, error) {
	site, err := s.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, auth.ErrNotFound
	}
	site.Name = update.Name
	site.Address = update.Address
	site.City = update.City
	site.State = update.State
	site.Latitude = update.Latitude
	site.Longitude = update.Longitude
	site.GroupID = update.GroupID
	site.GroupName = update.GroupName
	if update.AuthKey != "" {
		site.AuthKey = update.AuthKey
	}
	site.AuthExpiry = update.AuthExpiry
	stampActor(ctx, nil, &site.UpdatedBy)
	if err := site.Validate(); err != nil {
		return nil, err
	}
	if err := s.sites.Save(ctx, site); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, site.ID, "site.update", "site", strconv.FormatInt(site.ID, 10), site)
	return site, nil
}

// GetStation loads one station, enforcing site scoping. A missing station
// yields (nil, nil).
func (s *Service) GetStation(ctx context.Context, stationID int64) (*masterdata.Station, error) {
	station, err := s.stations.Get(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, nil
	}
	if !auth.CanAccessSite(ctx, station.SiteID) {
		return nil, auth.ErrSiteForbidden
	}
	return station, nil
}

// UpdateStation applies the mutable station metadata. The calibration window
// is owned by the calibration flow and is never touched here.
func (s *Service) UpdateStation(ctx context.Context, stationID int64, update masterdata.Station) (*masterdata.Station, error) {
	station, err := s.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, auth.ErrNotFound
	}
	station.Name = update.Name
	if update.StationUID != "" {
		station.StationUID = update.StationUID
	}
	stampActor(ctx, nil, &station.UpdatedBy)
	if err := station.Validate(); err != nil {
		return nil, err
	}
	if err := s.stations.Save(ctx, station); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, station.SiteID, "station.update", "station", strconv.FormatInt(station.ID, 10), station)
	return station, nil
}

// ListStations returns stations of a site.
func (s *Service) ListStations(ctx context.Context, siteID int64) ([]masterdata.Station, error) {
	if !auth.CanAccessSite(ctx, siteID) {
		return nil, auth.ErrSiteForbidden
	}
	return s.stations.ListBySite(ctx, siteID)
}

// SaveStation validates and persists a station.
func (s *Service) SaveStation(ctx context.Context, station *masterdata.Station) error {
	if station == nil {
		return errors.New("masterdata service: nil station")
	}
	if !auth.CanAccessSite(ctx, station.SiteID) {
		return auth.ErrSiteForbidden
	}
	stampActor(ctx, &station.CreatedBy, &station.UpdatedBy)
	if err := station.Validate(); err != nil {
		return err
	}
	if err := s.stations.Save(ctx, station); err != nil {
		return err
	}
	s.recordAudit(ctx, station.SiteID, "station.save", "station", strconv.FormatInt(station.ID, 10), station)
	return nil
}

// ListParameters returns the parameter catalogue.
func (s *Service) ListParameters(ctx context.Context) ([]masterdata.Parameter, error) {
	return s.parameters.ListParameters(ctx)
}

// SaveParameter validates and persists a catalogue parameter.
func (s *Service) SaveParameter(ctx context.Context, param *masterdata.Parameter) error {
	if param == nil {
		return errors.New("masterdata service: nil parameter")
	}
	stampActor(ctx, &param.CreatedBy, &param.UpdatedBy)
	if err := param.Validate(); err != nil {
		return err
	}
	if err := s.parameters.SaveParameter(ctx, param); err != nil {
		return err
	}
	s.recordAudit(ctx, 0, "parameter.save", "parameter", strconv.FormatInt(param.ID, 10), param)
	return nil
}

// ListMonitoringTypes returns all monitoring types.
func (s *Service) ListMonitoringTypes(ctx context.Context) ([]masterdata.MonitoringType, error) {
	return s.parameters.ListMonitoringTypes(ctx)
}

// SaveMonitoringType validates and persists a monitoring type.
func (s *Service) SaveMonitoringType(ctx context.Context, mt *masterdata.MonitoringType) error {
	if mt == nil {
		return errors.New("masterdata service: nil monitoring type")
	}
	if err := mt.Validate(); err != nil {
		return err
	}
	if err := s.parameters.SaveMonitoringType(ctx, mt); err != nil {
		return err
	}
	s.recordAudit(ctx, 0, "monitoring_type.save", "monitoring_type", strconv.FormatInt(mt.ID, 10), mt)
	return nil
}

// ListAnalysers returns all analysers.
func (s *Service) ListAnalysers(ctx context.Context) ([]masterdata.Analyser, error) {
	return s.parameters.ListAnalysers(ctx)
}

// SaveAnalyser validates and persists an analyser.
func (s *Service) SaveAnalyser(ctx context.Context, a *masterdata.Analyser) error {
	if a == nil {
		return errors.New("masterdata service: nil analyser")
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := s.parameters.SaveAnalyser(ctx, a); err != nil {
		return err
	}
	s.recordAudit(ctx, 0, "analyser.save", "analyser", strconv.FormatInt(a.ID, 10), a)
	return nil
}

// ListInstallations returns installations of a site.
func (s *Service) ListInstallations(ctx context.Context, siteID int64) ([]masterdata.StationParameter, error) {
	if !auth.CanAccessSite(ctx, siteID) {
		return nil, auth.ErrSiteForbidden
	}
	return s.stationpars.ListBySite(ctx, siteID)
}

// SaveInstallation validates and persists an installation. A declared site id
// must own the referenced station; an undeclared one is resolved from it.
func (s *Service) SaveInstallation(ctx context.Context, sp *masterdata.StationParameter) error {
	if sp == nil {
		return errors.New("masterdata service: nil installation")
	}
	if err := sp.Validate(); err != nil {
		return err
	}
	if sp.SiteID == 0 {
		station, err := s.stations.Get(ctx, sp.StationID)
		if err != nil {
			return err
		}
		if station == nil {
			return auth.ErrNotFound
		}
		sp.SiteID = station.SiteID
	} else if s.checker != nil {
		if err := s.checker.EnsureStationSite(ctx, sp.SiteID, sp.StationID); err != nil {
			return err
		}
	}
	if !auth.CanAccessSite(ctx, sp.SiteID) {
		return auth.ErrSiteForbidden
	}
	if err := s.stationpars.Save(ctx, sp); err != nil {
		return err
	}
	s.recordAudit(ctx, sp.SiteID, "installation.save", "station_parameter", strconv.FormatInt(sp.ID, 10), sp)
	return nil
}

// UpdateThreshold changes the enforced limits of an installation.
func (s *Service) UpdateThreshold(ctx context.Context, installationID int64, threshold float64, lowerBound *float64) error {
	if threshold <= 0 {
		return errors.New("masterdata service: threshold must be positive")
	}
	if lowerBound != nil && *lowerBound >= threshold {
		return errors.New("masterdata service: lower bound must be below threshold")
	}
	sp, err := s.stationpars.Get(ctx, installationID)
	if err != nil {
		return err
	}
	if sp == nil {
		return fmt.Errorf("masterdata service: installation %d not found", installationID)
	}
	if !auth.CanAccessSite(ctx, sp.SiteID) {
		return auth.ErrSiteForbidden
	}
	if err := s.stationpars.UpdateThreshold(ctx, installationID, threshold, lowerBound); err != nil {
		return err
	}
	s.recordAudit(ctx, sp.SiteID, "installation.threshold", "station_parameter", strconv.FormatInt(installationID, 10), map[string]any{
		"threshold":   threshold,
		"lower_bound": lowerBound,
	})
	return nil
}

// ListDevices returns data loggers of a site.
func (s *Service) ListDevices(ctx context.Context, siteID int64) ([]masterdata.Device, error) {
	if !auth.CanAccessSite(ctx, siteID) {
		return nil, auth.ErrSiteForbidden
	}
	return s.devices.ListBySite(ctx, siteID)
}

// SaveDevice validates and persists a data logger.
func (s *Service) SaveDevice(ctx context.Context, device *masterdata.Device) error {
	if device == nil {
		return errors.New("masterdata service: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if !auth.CanAccessSite(ctx, device.SiteID) {
		return auth.ErrSiteForbidden
	}
	if err := s.devices.Save(ctx, device); err != nil {
		return err
	}
	s.recordAudit(ctx, device.SiteID, "device.save", "device", device.DeviceUID, device)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, siteID int64, action, resourceType, resourceID string, payload any) {
	if s.auditor == nil {
		return
	}
	metadata, err := json.Marshal(payload)
	if err != nil {
		metadata = nil
	}
	entry := audit.Entry{
		SiteID:       siteID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Printf("masterdata audit log error: %v", err)
	}
}

func stampActor(ctx context.Context, createdBy, updatedBy *int64) {
	userID := auth.UserIDFromContext(ctx)
	if userID == 0 {
		return
	}
	if createdBy != nil && *createdBy == 0 {
		*createdBy = userID
	}
	if updatedBy != nil {
		*updatedBy = userID
	}
}
