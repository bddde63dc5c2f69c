package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cems-cloud/internal/auth"
	identity "cems-cloud/internal/identity/domain"
)

// ErrInvalidCredentials covers unknown accounts, wrong passwords and
// deactivated users alike so callers cannot tell which one failed.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// Service authenticates users and issues tokens.
type Service struct {
	users    identity.UserRepository
	secret   []byte
	tokenTTL time.Duration
	logger   *log.Logger
}

// NewService constructs an identity service.
func NewService(users identity.UserRepository, secret []byte, tokenTTL time.Duration, logger *log.Logger) (*Service, error) {
	if users == nil {
		return nil, errors.New("identity service: nil repository")
	}
	if len(secret) == 0 {
		return nil, errors.New("identity service: empty jwt secret")
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{users: users, secret: secret, tokenTTL: tokenTTL, logger: logger}, nil
}

// LoginResult carries the issued token and account summary.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      identity.User
}

// Login verifies credentials and issues a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if s == nil {
		return nil, errors.New("identity service: nil service")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	role, ok := auth.NormalizeRole(user.Role)
	if !ok {
		s.logger.Printf("identity: user %d has invalid role %q", user.ID, user.Role)
		return nil, ErrInvalidCredentials
	}

	token, err := auth.SignJWT(s.secret, user.ID, role, user.SiteIDs, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: time.Now().Add(s.tokenTTL),
		User:      *user,
	}, nil
}

// HashPassword produces a bcrypt digest for account provisioning.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("identity: empty password")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}
