package identity

import (
	"context"
	"errors"
	"time"
)

// User is a backend account. PasswordHash holds a bcrypt digest.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         string
	SiteIDs      []int64
	Active       bool
	CreatedAt    time.Time
}

// Validate checks user invariants.
func (u User) Validate() error {
	if u.Email == "" {
		return errors.New("user: empty email")
	}
	if u.PasswordHash == "" {
		return errors.New("user: empty password hash")
	}
	return nil
}

// UserRepository manages account persistence.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}
