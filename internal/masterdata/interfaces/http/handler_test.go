package masterdatahttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cems-cloud/internal/auth"
	"cems-cloud/internal/masterdata/application"
	masterdata "cems-cloud/internal/masterdata/domain"
)

type fakeSiteRepo struct {
	sites map[int64]masterdata.Site
}

func (f *fakeSiteRepo) Get(_ context.Context, id int64) (*masterdata.Site, error) {
	if site, ok := f.sites[id]; ok {
		return &site, nil
	}
	return nil, nil
}

func (f *fakeSiteRepo) List(_ context.Context) ([]masterdata.Site, error) {
	var out []masterdata.Site
	for _, site := range f.sites {
		out = append(out, site)
	}
	return out, nil
}

func (f *fakeSiteRepo) ListByIDs(_ context.Context, ids []int64) ([]masterdata.Site, error) {
	var out []masterdata.Site
	for _, id := range ids {
		if site, ok := f.sites[id]; ok {
			out = append(out, site)
		}
	}
	return out, nil
}

func (f *fakeSiteRepo) Save(_ context.Context, site *masterdata.Site) error {
	if site.ID == 0 {
		site.ID = int64(len(f.sites) + 1)
	}
	f.sites[site.ID] = *site
	return nil
}

type fakeStationRepo struct {
	stations map[int64]masterdata.Station
}

func (f *fakeStationRepo) Get(_ context.Context, id int64) (*masterdata.Station, error) {
	if st, ok := f.stations[id]; ok {
		return &st, nil
	}
	return nil, nil
}

func (f *fakeStationRepo) ListBySite(_ context.Context, siteID int64) ([]masterdata.Station, error) {
	var out []masterdata.Station
	for _, st := range f.stations {
		if st.SiteID == siteID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeStationRepo) Save(_ context.Context, station *masterdata.Station) error {
	if station.ID == 0 {
		station.ID = int64(len(f.stations) + 1)
	}
	f.stations[station.ID] = *station
	return nil
}

func (f *fakeStationRepo) UpdateCalibration(context.Context, int64, time.Time, time.Time, time.Time) error {
	return nil
}

type fakeParameterRepo struct {
	types     []masterdata.MonitoringType
	analysers []masterdata.Analyser
}

func (f *fakeParameterRepo) GetParameter(context.Context, int64) (*masterdata.Parameter, error) {
	return nil, nil
}
func (f *fakeParameterRepo) ListParameters(context.Context) ([]masterdata.Parameter, error) {
	return []masterdata.Parameter{{ID: 1, Name: "pm", Label: "PM", Unit: "mg/Nm3"}}, nil
}
func (f *fakeParameterRepo) SaveParameter(_ context.Context, p *masterdata.Parameter) error {
	p.ID = 1
	return nil
}
func (f *fakeParameterRepo) ListMonitoringTypes(context.Context) ([]masterdata.MonitoringType, error) {
	return []masterdata.MonitoringType{{ID: 1, Name: "emission"}}, nil
}
func (f *fakeParameterRepo) SaveMonitoringType(_ context.Context, mt *masterdata.MonitoringType) error {
	mt.ID = int64(len(f.types) + 2)
	f.types = append(f.types, *mt)
	return nil
}
func (f *fakeParameterRepo) ListAnalysers(context.Context) ([]masterdata.Analyser, error) {
	return nil, nil
}
func (f *fakeParameterRepo) SaveAnalyser(_ context.Context, a *masterdata.Analyser) error {
	a.ID = int64(len(f.analysers) + 1)
	f.analysers = append(f.analysers, *a)
	return nil
}

type fakeInstallationRepo struct {
	installations map[int64]masterdata.StationParameter
	thresholds    map[int64]float64
}

func (f *fakeInstallationRepo) Get(_ context.Context, id int64) (*masterdata.StationParameter, error) {
	if sp, ok := f.installations[id]; ok {
		return &sp, nil
	}
	return nil, nil
}

func (f *fakeInstallationRepo) ListBySite(_ context.Context, siteID int64) ([]masterdata.StationParameter, error) {
	var out []masterdata.StationParameter
	for _, sp := range f.installations {
		if sp.SiteID == siteID {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *fakeInstallationRepo) ListByStation(context.Context, int64) ([]masterdata.StationParameter, error) {
	return nil, nil
}

func (f *fakeInstallationRepo) Save(_ context.Context, sp *masterdata.StationParameter) error {
	if sp.ID == 0 {
		sp.ID = int64(len(f.installations) + 1)
	}
	f.installations[sp.ID] = *sp
	return nil
}

func (f *fakeInstallationRepo) UpdateThreshold(_ context.Context, id int64, threshold float64, _ *float64) error {
	f.thresholds[id] = threshold
	return nil
}

type fakeDeviceRepo struct{}

func (fakeDeviceRepo) GetByUID(context.Context, string) (*masterdata.Device, error) { return nil, nil }
func (fakeDeviceRepo) ListBySite(context.Context, int64) ([]masterdata.Device, error) {
	return nil, nil
}
func (fakeDeviceRepo) Save(_ context.Context, d *masterdata.Device) error {
	d.ID = 1
	return nil
}

// stationSiteChecker verifies declared station ownership against a fixed map.
type stationSiteChecker struct {
	owner map[int64]int64
}

func (c stationSiteChecker) EnsureStationSite(_ context.Context, siteID, stationID int64) error {
	ownedBy, ok := c.owner[stationID]
	if !ok {
		return auth.ErrNotFound
	}
	if ownedBy != siteID {
		return auth.ErrSiteForbidden
	}
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeSiteRepo, *fakeInstallationRepo) {
	t.Helper()
	sites := &fakeSiteRepo{sites: map[int64]masterdata.Site{
		1: {ID: 1, SiteUID: "SITE-1", Name: "North Plant"},
		2: {ID: 2, SiteUID: "SITE-2", Name: "South Plant"},
	}}
	installations := &fakeInstallationRepo{
		installations: map[int64]masterdata.StationParameter{
			10: {ID: 10, StationID: 3, SiteID: 1, ParameterID: 1, ParameterName: "pm", Threshold: 50, SamplingIntervalSeconds: 60, Editable: true},
		},
		thresholds: map[int64]float64{},
	}
	stations := &fakeStationRepo{stations: map[int64]masterdata.Station{
		3: {ID: 3, SiteID: 1, StationUID: "ST-1", Name: "Stack 1"},
		4: {ID: 4, SiteID: 2, StationUID: "ST-2", Name: "Stack 2"},
	}}
	service, err := application.NewService(
		sites,
		stations,
		&fakeParameterRepo{},
		installations,
		fakeDeviceRepo{},
		nil,
		nil,
		application.WithStationChecker(stationSiteChecker{owner: map[int64]int64{3: 1, 4: 2}}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(service)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, sites, installations
}

func viewerCtx(siteIDs ...int64) context.Context {
	return auth.WithIdentity(context.Background(), 7, auth.RoleViewer, "7", siteIDs)
}

func TestListSites_ScopedToAssignedSites(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []siteResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].SiteUID != "SITE-1" {
		t.Fatalf("expected only SITE-1, got %+v", got)
	}
}

func TestGetSite_ForbiddenForUnassignedSite(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/2", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestListInstallations(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/1/installations", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []installationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].ParameterName != "pm" || got[0].Threshold != 50 {
		t.Fatalf("unexpected installations: %+v", got)
	}
}

func TestUpdateThreshold(t *testing.T) {
	handler, _, installations := newTestHandler(t)

	body := `{"threshold": 65, "lower_bound": 10}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/station-parameters/10", strings.NewReader(body)).
		WithContext(auth.WithIdentity(context.Background(), 7, auth.RoleOperator, "7", []int64{1}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if installations.thresholds[10] != 65 {
		t.Fatalf("expected threshold 65 persisted, got %v", installations.thresholds[10])
	}
}

func TestUpdateThreshold_RejectsLowerBoundAboveThreshold(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	body := `{"threshold": 65, "lower_bound": 70}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/station-parameters/10", strings.NewReader(body)).
		WithContext(auth.WithIdentity(context.Background(), 7, auth.RoleOperator, "7", []int64{1}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func operatorCtx(siteIDs ...int64) context.Context {
	return auth.WithIdentity(context.Background(), 7, auth.RoleOperator, "7", siteIDs)
}

func TestUpdateSite(t *testing.T) {
	handler, sites, _ := newTestHandler(t)

	body := `{"name": "North Plant Renamed", "city": "Nagpur"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/sites/1", strings.NewReader(body)).
		WithContext(operatorCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	saved := sites.sites[1]
	if saved.Name != "North Plant Renamed" || saved.City != "Nagpur" {
		t.Fatalf("expected site updated, got %+v", saved)
	}
	if saved.SiteUID != "SITE-1" {
		t.Fatalf("expected site uid unchanged, got %q", saved.SiteUID)
	}
	if saved.UpdatedBy != 7 {
		t.Fatalf("expected acting user stamped, got updated_by=%d", saved.UpdatedBy)
	}
}

func TestUpdateSite_ForbiddenForUnassignedSite(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/sites/2", strings.NewReader(`{"name": "X"}`)).
		WithContext(operatorCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestListStations_BySiteQuery(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations?site_id=1", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got []stationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].StationUID != "ST-1" {
		t.Fatalf("expected only ST-1, got %+v", got)
	}
}

func TestListStations_RequiresSiteID(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetStation(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations/3", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got stationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != 3 || got.Name != "Stack 1" {
		t.Fatalf("unexpected station: %+v", got)
	}
}

func TestGetStation_ForbiddenForForeignSite(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations/4", nil).WithContext(viewerCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestUpdateStation(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	body := `{"name": "Stack 1 East"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/stations/3", strings.NewReader(body)).
		WithContext(operatorCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got stationResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Name != "Stack 1 East" || got.StationUID != "ST-1" {
		t.Fatalf("expected name changed and uid kept, got %+v", got)
	}
}

func TestCreateMonitoringType(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitoring-types", strings.NewReader(`{"name": "effluent"}`)).
		WithContext(operatorCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got monitoringTypeResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID == 0 || got.Name != "effluent" {
		t.Fatalf("unexpected monitoring type: %+v", got)
	}
}

func TestCreateAnalyser(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	body := `{"name": "CEMS-PM-01", "make": "Acme", "model": "PM2000"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysers", strings.NewReader(body)).
		WithContext(operatorCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got analyserResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID == 0 || got.Make != "Acme" {
		t.Fatalf("unexpected analyser: %+v", got)
	}
}

func TestCreateInstallation_RejectsForeignStation(t *testing.T) {
	handler, _, installations := newTestHandler(t)

	body := `{"station_id": 4, "site_id": 1, "parameter_id": 1, "threshold": 50, "sampling_interval_seconds": 60}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/station-parameters", strings.NewReader(body)).
		WithContext(operatorCtx(1))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(installations.installations) != 1 {
		t.Fatalf("expected no installation persisted")
	}
}

func TestCreateSite(t *testing.T) {
	handler, sites, _ := newTestHandler(t)

	body := `{"site_uid": "SITE-3", "name": "East Plant", "city": "Pune"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites", strings.NewReader(body)).
		WithContext(auth.WithIdentity(context.Background(), 2, auth.RoleAdmin, "2", nil))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got siteResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID == 0 {
		t.Fatalf("expected generated id")
	}
	saved := sites.sites[got.ID]
	if saved.CreatedBy != 2 || saved.UpdatedBy != 2 {
		t.Fatalf("expected acting user stamped, got created_by=%d updated_by=%d", saved.CreatedBy, saved.UpdatedBy)
	}
}
