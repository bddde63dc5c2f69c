package identityhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cems-cloud/internal/identity/application"
)

// LoginHandler serves credential exchange.
type LoginHandler struct {
	service *application.Service
}

// NewLoginHandler constructs a login handler.
func NewLoginHandler(service *application.Service) *LoginHandler {
	return &LoginHandler{service: service}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	SiteIDs   []int64   `json:"site_ids"`
}

// ServeHTTP handles POST /api/v1/auth/login.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, application.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "login error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		UserID:    result.User.ID,
		Name:      result.User.Name,
		Role:      result.User.Role,
		SiteIDs:   result.User.SiteIDs,
	})
}
