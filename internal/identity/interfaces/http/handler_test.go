package identityhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cems-cloud/internal/auth"
	"cems-cloud/internal/identity/application"
	identity "cems-cloud/internal/identity/domain"
)

type fakeUserRepo struct {
	users map[string]identity.User
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	if user, ok := f.users[email]; ok {
		return &user, nil
	}
	return nil, nil
}

func (f *fakeUserRepo) Save(_ context.Context, user *identity.User) error {
	f.users[user.Email] = *user
	return nil
}

func newLoginHandler(t *testing.T, secret []byte) *LoginHandler {
	t.Helper()
	hash, err := application.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	repo := &fakeUserRepo{users: map[string]identity.User{
		"ops@plant.example": {
			ID:           7,
			Email:        "ops@plant.example",
			Name:         "Ops",
			PasswordHash: hash,
			Role:         "operator",
			SiteIDs:      []int64{1, 4},
			Active:       true,
		},
		"gone@plant.example": {
			ID:           8,
			Email:        "gone@plant.example",
			PasswordHash: hash,
			Role:         "viewer",
			Active:       false,
		},
	}}
	service, err := application.NewService(repo, secret, time.Hour, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewLoginHandler(service)
}

func TestLogin_IssuesParsableToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := newLoginHandler(t, secret)

	body := `{"email": "ops@plant.example", "password": "s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var got loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	claims, err := auth.ParseJWT(got.Token, secret)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.UserID != 7 {
		t.Fatalf("expected user 7 in claims, got %d", claims.UserID)
	}
	if claims.Role != "operator" {
		t.Fatalf("expected operator role, got %q", claims.Role)
	}
	if len(claims.SiteIDs) != 2 || claims.SiteIDs[0] != 1 || claims.SiteIDs[1] != 4 {
		t.Fatalf("expected site ids [1 4], got %v", claims.SiteIDs)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	handler := newLoginHandler(t, []byte("test-secret"))

	body := `{"email": "ops@plant.example", "password": "wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	handler := newLoginHandler(t, []byte("test-secret"))

	body := `{"email": "gone@plant.example", "password": "s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
