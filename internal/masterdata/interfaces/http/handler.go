package masterdatahttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cems-cloud/internal/auth"
	"cems-cloud/internal/masterdata/application"
	masterdata "cems-cloud/internal/masterdata/domain"
)

// Handler routes master data requests.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a master data handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("masterdata handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP dispatches master data requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	path := r.URL.Path
	switch {
	case path == "/api/v1/sites":
		h.handleSites(w, r)
	case strings.HasPrefix(path, "/api/v1/sites/"):
		h.handleSiteSubresource(w, r)
	case path == "/api/v1/stations":
		h.handleStations(w, r)
	case strings.HasPrefix(path, "/api/v1/stations/"):
		h.handleStationByID(w, r)
	case path == "/api/v1/parameters":
		h.handleParameters(w, r)
	case path == "/api/v1/monitoring-types":
		h.handleMonitoringTypes(w, r)
	case path == "/api/v1/analysers":
		h.handleAnalysers(w, r)
	case path == "/api/v1/station-parameters":
		h.handleInstallationCreate(w, r)
	case strings.HasPrefix(path, "/api/v1/station-parameters/"):
		h.handleThresholdUpdate(w, r)
	case path == "/api/v1/devices":
		h.handleDeviceCreate(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sites, err := h.service.ListSites(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]siteResponse, 0, len(sites))
		for _, site := range sites {
			out = append(out, toSiteResponse(site))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req sitePayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		site := req.toDomain()
		if err := h.service.SaveSite(r.Context(), &site); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSiteResponse(site))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSiteSubresource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sites/")
	parts := strings.Split(path, "/")
	siteID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || siteID <= 0 {
		http.Error(w, "invalid site id", http.StatusBadRequest)
		return
	}
	if len(parts) > 1 && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		site, err := h.service.GetSite(r.Context(), siteID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		if site == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, toSiteResponse(*site))
	case len(parts) == 1 && r.Method == http.MethodPut:
		var req sitePayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		site, err := h.service.UpdateSite(r.Context(), siteID, req.toDomain())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSiteResponse(*site))
	case len(parts) == 1:
		w.WriteHeader(http.StatusMethodNotAllowed)
	case len(parts) == 2 && parts[1] == "stations":
		stations, err := h.service.ListStations(r.Context(), siteID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]stationResponse, 0, len(stations))
		for _, station := range stations {
			out = append(out, toStationResponse(station))
		}
		writeJSON(w, http.StatusOK, out)
	case len(parts) == 2 && parts[1] == "installations":
		installations, err := h.service.ListInstallations(r.Context(), siteID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]installationResponse, 0, len(installations))
		for _, sp := range installations {
			out = append(out, toInstallationResponse(sp))
		}
		writeJSON(w, http.StatusOK, out)
	case len(parts) == 2 && parts[1] == "devices":
		devices, err := h.service.ListDevices(r.Context(), siteID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]deviceResponse, 0, len(devices))
		for _, device := range devices {
			out = append(out, toDeviceResponse(device))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		siteID, err := strconv.ParseInt(r.URL.Query().Get("site_id"), 10, 64)
		if err != nil || siteID <= 0 {
			http.Error(w, "site_id is required", http.StatusBadRequest)
			return
		}
		stations, err := h.service.ListStations(r.Context(), siteID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]stationResponse, 0, len(stations))
		for _, station := range stations {
			out = append(out, toStationResponse(station))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req stationPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		station := req.toDomain()
		if err := h.service.SaveStation(r.Context(), &station); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toStationResponse(station))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleStationByID(w http.ResponseWriter, r *http.Request) {
	idText := strings.TrimPrefix(r.URL.Path, "/api/v1/stations/")
	stationID, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || stationID <= 0 {
		http.Error(w, "invalid station id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		station, err := h.service.GetStation(r.Context(), stationID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		if station == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, toStationResponse(*station))
	case http.MethodPut:
		var req stationPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		station, err := h.service.UpdateStation(r.Context(), stationID, req.toDomain())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toStationResponse(*station))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleParameters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		params, err := h.service.ListParameters(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]parameterResponse, 0, len(params))
		for _, p := range params {
			out = append(out, toParameterResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req parameterPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		param := req.toDomain()
		if err := h.service.SaveParameter(r.Context(), &param); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toParameterResponse(param))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleMonitoringTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types, err := h.service.ListMonitoringTypes(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]monitoringTypeResponse, 0, len(types))
		for _, mt := range types {
			out = append(out, monitoringTypeResponse{ID: mt.ID, Name: mt.Name})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req monitoringTypePayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		mt := masterdata.MonitoringType{Name: req.Name}
		if err := h.service.SaveMonitoringType(r.Context(), &mt); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, monitoringTypeResponse{ID: mt.ID, Name: mt.Name})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAnalysers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		analysers, err := h.service.ListAnalysers(r.Context())
		if err != nil {
			respondServiceError(w, err)
			return
		}
		out := make([]analyserResponse, 0, len(analysers))
		for _, a := range analysers {
			out = append(out, toAnalyserResponse(a))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req analyserPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		analyser := req.toDomain()
		if err := h.service.SaveAnalyser(r.Context(), &analyser); err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAnalyserResponse(analyser))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleInstallationCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req installationPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sp := req.toDomain()
	if err := h.service.SaveInstallation(r.Context(), &sp); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInstallationResponse(sp))
}

func (h *Handler) handleThresholdUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idText := strings.TrimPrefix(r.URL.Path, "/api/v1/station-parameters/")
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid installation id", http.StatusBadRequest)
		return
	}
	var req thresholdPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.service.UpdateThreshold(r.Context(), id, req.Threshold, req.LowerBound); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) handleDeviceCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req devicePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	device := req.toDomain()
	if err := h.service.SaveDevice(r.Context(), &device); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceResponse(device))
}

func respondServiceError(w http.ResponseWriter, err error) {
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

type sitePayload struct {
	SiteUID    string     `json:"site_uid"`
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	GroupID    *int64     `json:"group_id"`
	GroupName  string     `json:"group_name"`
	AuthKey    string     `json:"auth_key"`
	AuthExpiry *time.Time `json:"auth_expiry"`
}

func (p sitePayload) toDomain() masterdata.Site {
	return masterdata.Site{
		SiteUID:    p.SiteUID,
		Name:       p.Name,
		Address:    p.Address,
		City:       p.City,
		State:      p.State,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		GroupID:    p.GroupID,
		GroupName:  p.GroupName,
		AuthKey:    p.AuthKey,
		AuthExpiry: p.AuthExpiry,
	}
}

type siteResponse struct {
	ID         int64      `json:"id"`
	SiteUID    string     `json:"site_uid"`
	Name       string     `json:"name"`
	Address    string     `json:"address,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	GroupID    *int64     `json:"group_id,omitempty"`
	GroupName  string     `json:"group_name,omitempty"`
	AuthExpiry *time.Time `json:"auth_expiry,omitempty"`
	Active     bool       `json:"active"`
}

func toSiteResponse(site masterdata.Site) siteResponse {
	return siteResponse{
		ID:         site.ID,
		SiteUID:    site.SiteUID,
		Name:       site.Name,
		Address:    site.Address,
		City:       site.City,
		State:      site.State,
		Latitude:   site.Latitude,
		Longitude:  site.Longitude,
		GroupID:    site.GroupID,
		GroupName:  site.GroupName,
		AuthExpiry: site.AuthExpiry,
		Active:     site.Active(time.Now()),
	}
}

type stationPayload struct {
	SiteID     int64  `json:"site_id"`
	StationUID string `json:"station_uid"`
	Name       string `json:"name"`
}

func (p stationPayload) toDomain() masterdata.Station {
	return masterdata.Station{SiteID: p.SiteID, StationUID: p.StationUID, Name: p.Name}
}

type stationResponse struct {
	ID                int64      `json:"id"`
	SiteID            int64      `json:"site_id"`
	StationUID        string     `json:"station_uid"`
	Name              string     `json:"name"`
	CalibrationFrom   *time.Time `json:"calibration_from,omitempty"`
	CalibrationTo     *time.Time `json:"calibration_to,omitempty"`
	CalibrationExpiry *time.Time `json:"calibration_expiry,omitempty"`
	CalibrationDue    bool       `json:"calibration_due"`
}

func toStationResponse(station masterdata.Station) stationResponse {
	return stationResponse{
		ID:                station.ID,
		SiteID:            station.SiteID,
		StationUID:        station.StationUID,
		Name:              station.Name,
		CalibrationFrom:   station.CalibrationFrom,
		CalibrationTo:     station.CalibrationTo,
		CalibrationExpiry: station.CalibrationExpiry,
		CalibrationDue:    station.CalibrationExpired(time.Now()),
	}
}

type parameterPayload struct {
	Name             string   `json:"name"`
	Label            string   `json:"label"`
	Unit             string   `json:"unit"`
	MinThreshold     *float64 `json:"min_threshold"`
	MaxThreshold     *float64 `json:"max_threshold"`
	MonitoringTypeID *int64   `json:"monitoring_type_id"`
}

func (p parameterPayload) toDomain() masterdata.Parameter {
	return masterdata.Parameter{
		Name:             p.Name,
		Label:            p.Label,
		Unit:             p.Unit,
		MinThreshold:     p.MinThreshold,
		MaxThreshold:     p.MaxThreshold,
		MonitoringTypeID: p.MonitoringTypeID,
	}
}

type parameterResponse struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Label            string   `json:"label,omitempty"`
	Unit             string   `json:"unit,omitempty"`
	MinThreshold     *float64 `json:"min_threshold,omitempty"`
	MaxThreshold     *float64 `json:"max_threshold,omitempty"`
	MonitoringTypeID *int64   `json:"monitoring_type_id,omitempty"`
}

func toParameterResponse(p masterdata.Parameter) parameterResponse {
	return parameterResponse{
		ID:               p.ID,
		Name:             p.Name,
		Label:            p.Label,
		Unit:             p.Unit,
		MinThreshold:     p.MinThreshold,
		MaxThreshold:     p.MaxThreshold,
		MonitoringTypeID: p.MonitoringTypeID,
	}
}

type monitoringTypePayload struct {
	Name string `json:"name"`
}

type monitoringTypeResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type analyserPayload struct {
	Name             string `json:"name"`
	UID              string `json:"uid"`
	Make             string `json:"make"`
	Model            string `json:"model"`
	MonitoringTypeID *int64 `json:"monitoring_type_id"`
}

func (p analyserPayload) toDomain() masterdata.Analyser {
	return masterdata.Analyser{
		Name:             p.Name,
		UID:              p.UID,
		Make:             p.Make,
		Model:            p.Model,
		MonitoringTypeID: p.MonitoringTypeID,
	}
}

type analyserResponse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	UID              string `json:"uid,omitempty"`
	Make             string `json:"make,omitempty"`
	Model            string `json:"model,omitempty"`
	MonitoringTypeID *int64 `json:"monitoring_type_id,omitempty"`
}

func toAnalyserResponse(a masterdata.Analyser) analyserResponse {
	return analyserResponse{
		ID:               a.ID,
		Name:             a.Name,
		UID:              a.UID,
		Make:             a.Make,
		Model:            a.Model,
		MonitoringTypeID: a.MonitoringTypeID,
	}
}

type installationPayload struct {
	StationID               int64    `json:"station_id"`
	SiteID                  int64    `json:"site_id"`
	AnalyserID              *int64   `json:"analyser_id"`
	ParameterID             int64    `json:"parameter_id"`
	Threshold               float64  `json:"threshold"`
	LowerBound              *float64 `json:"lower_bound"`
	Unit                    string   `json:"unit"`
	SamplingIntervalSeconds int      `json:"sampling_interval_seconds"`
	Editable                bool     `json:"editable"`
}

func (p installationPayload) toDomain() masterdata.StationParameter {
	return masterdata.StationParameter{
		StationID:               p.StationID,
		SiteID:                  p.SiteID,
		AnalyserID:              p.AnalyserID,
		ParameterID:             p.ParameterID,
		Threshold:               p.Threshold,
		LowerBound:              p.LowerBound,
		Unit:                    p.Unit,
		SamplingIntervalSeconds: p.SamplingIntervalSeconds,
		Editable:                p.Editable,
	}
}

type installationResponse struct {
	ID                      int64    `json:"id"`
	StationID               int64    `json:"station_id"`
	SiteID                  int64    `json:"site_id"`
	AnalyserID              *int64   `json:"analyser_id,omitempty"`
	ParameterID             int64    `json:"parameter_id"`
	ParameterName           string   `json:"parameter_name"`
	ParameterLabel          string   `json:"parameter_label,omitempty"`
	MonitoringTypeID        *int64   `json:"monitoring_type_id,omitempty"`
	MonitoringTypeName      string   `json:"monitoring_type_name,omitempty"`
	Threshold               float64  `json:"threshold"`
	LowerBound              *float64 `json:"lower_bound,omitempty"`
	Unit                    string   `json:"unit,omitempty"`
	SamplingIntervalSeconds int      `json:"sampling_interval_seconds"`
	Editable                bool     `json:"editable"`
}

func toInstallationResponse(sp masterdata.StationParameter) installationResponse {
	return installationResponse{
		ID:                      sp.ID,
		StationID:               sp.StationID,
		SiteID:                  sp.SiteID,
		AnalyserID:              sp.AnalyserID,
		ParameterID:             sp.ParameterID,
		ParameterName:           sp.ParameterName,
		ParameterLabel:          sp.ParameterLabel,
		MonitoringTypeID:        sp.MonitoringTypeID,
		MonitoringTypeName:      sp.MonitoringTypeName,
		Threshold:               sp.Threshold,
		LowerBound:              sp.LowerBound,
		Unit:                    sp.Unit,
		SamplingIntervalSeconds: sp.SamplingIntervalSeconds,
		Editable:                sp.Editable,
	}
}

type thresholdPayload struct {
	Threshold  float64  `json:"threshold"`
	LowerBound *float64 `json:"lower_bound"`
}

type devicePayload struct {
	SiteID    int64  `json:"site_id"`
	DeviceUID string `json:"device_uid"`
	AuthKey   string `json:"auth_key"`
	Active    bool   `json:"active"`
}

func (p devicePayload) toDomain() masterdata.Device {
	return masterdata.Device{SiteID: p.SiteID, DeviceUID: p.DeviceUID, AuthKey: p.AuthKey, Active: p.Active}
}

type deviceResponse struct {
	ID        int64  `json:"id"`
	SiteID    int64  `json:"site_id"`
	DeviceUID string `json:"device_uid"`
	Active    bool   `json:"active"`
}

func toDeviceResponse(device masterdata.Device) deviceResponse {
	return deviceResponse{ID: device.ID, SiteID: device.SiteID, DeviceUID: device.DeviceUID, Active: device.Active}
}
