package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cems-cloud/internal/audit"
	"cems-cloud/internal/auth"
	calibration "cems-cloud/internal/calibration/domain"
	masterdata "cems-cloud/internal/masterdata/domain"
	"cems-cloud/internal/observability/metrics"
)

// Publisher delivers an encrypted payload to a data logger topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Window is a requested calibration window for a station.
type Window struct {
	From   time.Time
	To     time.Time
	Expiry time.Time
}

// Service applies calibration windows. Applying updates the station record,
// appends to the history, and pushes the encrypted window to every active
// data logger of the station's site so on-device readings get suppressed
// during the window.
type Service struct {
	stations  masterdata.StationRepository
	devices   masterdata.DeviceRepository
	history   calibration.HistoryRepository
	publisher Publisher
	auditor   audit.Logger
	logger    *log.Logger
}

// NewService constructs a calibration service. The publisher and auditor are
// optional; without a publisher windows are persisted but not pushed.
func NewService(
	stations masterdata.StationRepository,
	devices masterdata.DeviceRepository,
	history calibration.HistoryRepository,
	publisher Publisher,
	auditor audit.Logger,
	logger *log.Logger,
) (*Service, error) {
	if stations == nil || devices == nil || history == nil {
		return nil, errors.New("calibration service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		stations:  stations,
		devices:   devices,
		history:   history,
		publisher: publisher,
		auditor:   auditor,
		logger:    logger,
	}, nil
}

// ApplyResult reports the persisted window plus what was pushed, so API
// callers can verify what the data loggers received.
type ApplyResult struct {
	Record  *calibration.Record
	Topics  []string
	Payload json.RawMessage
}

// ApplyCalibration validates and persists a window, then pushes it to the
// site's data loggers. Push failures are logged per device and do not roll
// back the persisted window.
func (s *Service) ApplyCalibration(ctx context.Context, stationID int64, window Window) (*ApplyResult, error) {
	station, err := s.stations.Get(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, auth.ErrNotFound
	}
	if !auth.CanAccessSite(ctx, station.SiteID) {
		return nil, auth.ErrSiteForbidden
	}

	record := &calibration.Record{
		ID:        "cal-" + uuid.NewString(),
		StationID: station.ID,
		SiteID:    station.SiteID,
		From:      window.From.UTC(),
		To:        window.To.UTC(),
		Expiry:    window.Expiry.UTC(),
		CreatedBy: auth.UserIDFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.stations.UpdateCalibration(ctx, station.ID, record.From, record.To, record.Expiry); err != nil {
		return nil, err
	}
	if err := s.history.Insert(ctx, record); err != nil {
		return nil, err
	}

	topics, payload := s.pushToDevices(ctx, station, record)
	s.recordAudit(ctx, record)
	return &ApplyResult{Record: record, Topics: topics, Payload: payload}, nil
}

// ListHistory returns applied windows for a station, newest first.
func (s *Service) ListHistory(ctx context.Context, stationID int64) ([]calibration.Record, error) {
	station, err := s.stations.Get(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, auth.ErrNotFound
	}
	if !auth.CanAccessSite(ctx, station.SiteID) {
		return nil, auth.ErrSiteForbidden
	}
	return s.history.ListByStation(ctx, stationID)
}

type pushPayload struct {
	StationUID  string `json:"station_uid"`
	CalibFrom   string `json:"calib_from"`
	CalibTo     string `json:"calib_to"`
	CalibExpiry string `json:"calib_expiry"`
}

func (s *Service) pushToDevices(ctx context.Context, station *masterdata.Station, record *calibration.Record) ([]string, json.RawMessage) {
	plain, err := json.Marshal(pushPayload{
		StationUID:  station.StationUID,
		CalibFrom:   record.From.Format(time.RFC3339),
		CalibTo:     record.To.Format(time.RFC3339),
		CalibExpiry: record.Expiry.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Printf("calibration push: marshal payload: %v", err)
		return nil, nil
	}
	if s.publisher == nil {
		return nil, plain
	}

	devices, err := s.devices.ListBySite(ctx, station.SiteID)
	if err != nil {
		s.logger.Printf("calibration push: list devices for site %d: %v", station.SiteID, err)
		metrics.ObserveCalibrationPush(metrics.ResultError, 0)
		return nil, plain
	}

	var topics []string
	for _, device := range devices {
		if !device.Active {
			continue
		}
		started := time.Now()
		topic := device.DeviceUID + "_IN"
		if err := s.pushToDevice(ctx, device, topic, plain); err != nil {
			s.logger.Printf("calibration push: device %s: %v", device.DeviceUID, err)
			metrics.ObserveCalibrationPush(metrics.ResultError, time.Since(started))
			continue
		}
		topics = append(topics, topic)
		metrics.ObserveCalibrationPush(metrics.ResultSuccess, time.Since(started))
	}
	return topics, plain
}

func (s *Service) pushToDevice(ctx context.Context, device masterdata.Device, topic string, plain []byte) error {
	sealed, err := calibration.Encrypt(calibration.DeriveKey(device.AuthKey), plain)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	return s.publisher.Publish(ctx, topic, []byte(sealed))
}

func (s *Service) recordAudit(ctx context.Context, record *calibration.Record) {
	if s.auditor == nil {
		return
	}
	metadata, err := json.Marshal(map[string]any{
		"calibration_from":   record.From,
		"calibration_to":     record.To,
		"calibration_expiry": record.Expiry,
	})
	if err != nil {
		metadata = nil
	}
	entry := audit.Entry{
		SiteID:       record.SiteID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "station.calibration",
		ResourceType: "station",
		ResourceID:   strconv.FormatInt(record.StationID, 10),
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Printf("calibration audit log error: %v", err)
	}
}
