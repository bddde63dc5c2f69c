package dashboardhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cems-cloud/internal/auth"
	"cems-cloud/internal/dashboard/application"
)

// Handler serves /api/v1/sites/{id}/dashboard and /api/v1/sites/{id}/cards.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a dashboard handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("dashboard handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Matches reports whether this handler owns the request path.
func (h *Handler) Matches(path string) bool {
	return strings.HasSuffix(path, "/dashboard") || strings.HasSuffix(path, "/cards")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sites/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	siteID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || siteID <= 0 {
		http.Error(w, "invalid site id", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "dashboard":
		dashboard, err := h.service.Dashboard(r.Context(), siteID)
		if err != nil {
			respondDashboardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dashboard)
	case "cards":
		cards, err := h.service.Cards(r.Context(), siteID)
		if err != nil {
			respondDashboardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cards)
	default:
		http.NotFound(w, r)
	}
}

func respondDashboardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrSiteForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
