package calibrationhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cems-cloud/internal/auth"
	"cems-cloud/internal/calibration/application"
	calibration "cems-cloud/internal/calibration/domain"
)

// Handler serves calibration windows under /api/v1/stations/{id}/calibration.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a calibration handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("calibration handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Matches reports whether this handler owns the request path.
func (h *Handler) Matches(path string) bool {
	return strings.HasSuffix(path, "/calibration") || strings.HasSuffix(path, "/calibration/history")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/stations/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "calibration" {
		http.NotFound(w, r)
		return
	}
	stationID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || stationID <= 0 {
		http.Error(w, "invalid station id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		h.handleApply(w, r, stationID)
	case len(parts) == 3 && parts[2] == "history" && r.Method == http.MethodGet:
		h.handleHistory(w, r, stationID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type windowPayload struct {
	CalibrationFrom   time.Time `json:"calibration_from"`
	CalibrationTo     time.Time `json:"calibration_to"`
	CalibrationExpiry time.Time `json:"calibration_expiry"`
}

type recordResponse struct {
	ID                string    `json:"id"`
	StationID         int64     `json:"station_id"`
	SiteID            int64     `json:"site_id"`
	CalibrationFrom   time.Time `json:"calibration_from"`
	CalibrationTo     time.Time `json:"calibration_to"`
	CalibrationExpiry time.Time `json:"calibration_expiry"`
	CreatedBy         int64     `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

func toRecordResponse(record calibration.Record) recordResponse {
	return recordResponse{
		ID:                record.ID,
		StationID:         record.StationID,
		SiteID:            record.SiteID,
		CalibrationFrom:   record.From,
		CalibrationTo:     record.To,
		CalibrationExpiry: record.Expiry,
		CreatedBy:         record.CreatedBy,
		CreatedAt:         record.CreatedAt,
	}
}

type applyResponse struct {
	Record  recordResponse  `json:"record"`
	Topics  []string        `json:"topics"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request, stationID int64) {
	var payload windowPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	result, err := h.service.ApplyCalibration(r.Context(), stationID, application.Window{
		From:   payload.CalibrationFrom,
		To:     payload.CalibrationTo,
		Expiry: payload.CalibrationExpiry,
	})
	if err != nil {
		respondCalibrationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, applyResponse{
		Record:  toRecordResponse(*result.Record),
		Topics:  result.Topics,
		Payload: result.Payload,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, stationID int64) {
	records, err := h.service.ListHistory(r.Context(), stationID)
	if err != nil {
		respondCalibrationError(w, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toRecordResponse(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func respondCalibrationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrSiteForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
