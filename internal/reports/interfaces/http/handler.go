package reportshttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	aggregation "cems-cloud/internal/aggregation"
	"cems-cloud/internal/auth"
	"cems-cloud/internal/reports/application"
)

// Handler serves report queries under /api/v1/reports/.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a report handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("reports handler: nil service")
	}
	return &Handler{service: service}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/reports/series":
		h.handleSeries(w, r)
	case "/api/v1/reports/availability":
		h.handleAvailability(w, r)
	case "/api/v1/reports/exceedance":
		h.handleExceedance(w, r)
	case "/api/v1/reports/summary":
		h.handleSummary(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	req, err := parseSeriesRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.service.Series(r.Context(), req)
	if err != nil {
		respondReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	stationParamID, window, err := parseInstallationWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.service.Availability(r.Context(), stationParamID, window)
	if err != nil {
		respondReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExceedance(w http.ResponseWriter, r *http.Request) {
	stationParamID, window, err := parseInstallationWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.service.Exceedance(r.Context(), stationParamID, window)
	if err != nil {
		respondReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	stationParamID, window, err := parseInstallationWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.service.Summary(r.Context(), stationParamID, window)
	if err != nil {
		respondReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func parseSeriesRequest(r *http.Request) (application.SeriesRequest, error) {
	var req application.SeriesRequest

	siteID, err := strconv.ParseInt(r.URL.Query().Get("site_id"), 10, 64)
	if err != nil || siteID <= 0 {
		return req, errors.New("site_id is required")
	}
	req.SiteID = siteID

	window, err := parseWindow(r)
	if err != nil {
		return req, err
	}
	req.Window = window

	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = string(aggregation.Bucket15Min)
	}
	width, err := aggregation.ParseBucketWidth(bucket)
	if err != nil {
		return req, err
	}
	req.Width = width

	if raw := r.URL.Query().Get("station_param_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				return req, errors.New("invalid station_param_ids")
			}
			req.StationParamIDs = append(req.StationParamIDs, id)
		}
	}
	return req, nil
}

func parseInstallationWindow(r *http.Request) (int64, aggregation.Window, error) {
	stationParamID, err := strconv.ParseInt(r.URL.Query().Get("station_param_id"), 10, 64)
	if err != nil || stationParamID <= 0 {
		return 0, aggregation.Window{}, errors.New("station_param_id is required")
	}
	window, err := parseWindow(r)
	if err != nil {
		return 0, aggregation.Window{}, err
	}
	return stationParamID, window, nil
}

func parseWindow(r *http.Request) (aggregation.Window, error) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return aggregation.Window{}, errors.New("from must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		return aggregation.Window{}, errors.New("to must be RFC3339")
	}
	window := aggregation.Window{From: from, To: to}
	if err := window.Validate(); err != nil {
		return aggregation.Window{}, err
	}
	return window, nil
}

func respondReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrSiteForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, aggregation.ErrInvalidWindow), errors.Is(err, aggregation.ErrInvalidBucketWidth):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
