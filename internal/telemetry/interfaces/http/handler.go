package telemetryhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	masterdata "cems-cloud/internal/masterdata/domain"
	"cems-cloud/internal/observability/metrics"
	telemetry "cems-cloud/internal/telemetry/domain"
)

// AlertSink receives accepted readings for threshold evaluation. Evaluation
// failures must not fail the ingest.
type AlertSink interface {
	Evaluate(ctx context.Context, readings []telemetry.Reading)
}

// IngestHandler handles batched readings from data loggers. The signing
// middleware has already authenticated the logger; the handler re-resolves
// the device to scope readings to its site.
type IngestHandler struct {
	repo    telemetry.ReadingRepository
	devices masterdata.DeviceRepository
	alerts  AlertSink
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(repo telemetry.ReadingRepository, devices masterdata.DeviceRepository, alerts AlertSink, logger *log.Logger) (*IngestHandler, error) {
	if repo == nil {
		return nil, errors.New("ingest handler: nil repository")
	}
	if devices == nil {
		return nil, errors.New("ingest handler: nil device repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{repo: repo, devices: devices, alerts: alerts, logger: logger}, nil
}

// ServeHTTP ingests a reading batch.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	deviceUID := strings.TrimSpace(r.Header.Get("X-Device-UID"))
	if deviceUID == "" {
		metrics.IncIngestError("missing_device")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "missing device uid", http.StatusBadRequest)
		return
	}

	device, err := h.devices.GetByUID(r.Context(), deviceUID)
	if err != nil {
		h.logger.Printf("ingest: device lookup error: %v", err)
		metrics.IncIngestError("device_lookup")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "device lookup error", http.StatusInternalServerError)
		return
	}
	if device == nil || !device.Active {
		metrics.IncIngestError("unknown_device")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "unknown device", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.IncIngestError("read_body")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.IncIngestError("decode")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	readings, dropped, err := req.toReadings(device.SiteID, device.DeviceUID)
	if err != nil {
		metrics.IncIngestError("payload")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.repo.InsertReadings(r.Context(), readings); err != nil {
		h.logger.Printf("ingest: insert error: %v", err)
		metrics.IncIngestError("insert")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	if h.alerts != nil {
		h.alerts.Evaluate(r.Context(), readings)
	}

	metrics.AddIngestReadings(len(readings))
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"inserted": len(readings),
		"dropped":  dropped,
	})
}

type ingestRequest struct {
	Readings []ingestReading `json:"readings"`
}

type ingestReading struct {
	StationParamID int64    `json:"station_param_id"`
	TS             int64    `json:"ts"`
	Value          *float64 `json:"value"`
}

// toReadings converts the wire batch. Non-finite and null values are dropped,
// not rejected, so one bad sensor cannot sink a whole logger batch.
func (r ingestRequest) toReadings(siteID int64, deviceUID string) ([]telemetry.Reading, int, error) {
	if len(r.Readings) == 0 {
		return nil, 0, errors.New("no readings")
	}

	readings := make([]telemetry.Reading, 0, len(r.Readings))
	dropped := 0
	for _, item := range r.Readings {
		if item.StationParamID == 0 {
			return nil, 0, errors.New("missing station_param_id")
		}
		ts, err := parseTimestamp(item.TS)
		if err != nil {
			return nil, 0, err
		}
		if item.Value == nil || math.IsNaN(*item.Value) || math.IsInf(*item.Value, 0) {
			dropped++
			continue
		}
		readings = append(readings, telemetry.Reading{
			SiteID:         siteID,
			StationParamID: item.StationParamID,
			DeviceUID:      deviceUID,
			At:             ts,
			Value:          *item.Value,
		})
	}
	if len(readings) == 0 && dropped == 0 {
		return nil, 0, errors.New("no readings")
	}
	return readings, dropped, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
