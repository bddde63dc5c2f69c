package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	identity "cems-cloud/internal/identity/domain"
)

const defaultUsersTable = "users"

// UserRepository is a Postgres implementation for accounts. Site assignments
// live in a join table read in the same round trip.
type UserRepository struct {
	db         *sql.DB
	table      string
	sitesTable string
}

// NewUserRepository constructs a repository.
func NewUserRepository(db *sql.DB, opts ...UserOption) *UserRepository {
	repo := &UserRepository{db: db, table: defaultUsersTable, sitesTable: "user_sites"}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// UserOption configures the repository.
type UserOption func(*UserRepository)

// WithUserTables overrides the default table names.
func WithUserTables(users, userSites string) UserOption {
	return func(repo *UserRepository) {
		if users != "" {
			repo.table = users
		}
		if userSites != "" {
			repo.sitesTable = userSites
		}
	}
}

// GetByEmail loads an account with its site assignments. Missing yields
// (nil, nil).
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("user repo: empty email")
	}

	query := fmt.Sprintf(`
SELECT id, email, name, password_hash, role, active, created_at
FROM %s
WHERE email = $1
LIMIT 1`, r.table)

	var user identity.User
	var name sql.NullString
	if err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&name,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Name = name.String
	user.CreatedAt = user.CreatedAt.UTC()

	siteQuery := fmt.Sprintf(`SELECT site_id FROM %s WHERE user_id = $1 ORDER BY site_id`, r.sitesTable)
	rows, err := r.db.QueryContext(ctx, siteQuery, user.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var siteID int64
		if err := rows.Scan(&siteID); err != nil {
			return nil, err
		}
		user.SiteIDs = append(user.SiteIDs, siteID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &user, nil
}

// Save upserts an account keyed on email and replaces site assignments.
func (r *UserRepository) Save(ctx context.Context, user *identity.User) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	if user == nil {
		return errors.New("user repo: nil user")
	}
	if err := user.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (email, name, password_hash, role, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email)
DO UPDATE SET
	name = EXCLUDED.name,
	password_hash = EXCLUDED.password_hash,
	role = EXCLUDED.role,
	active = EXCLUDED.active
RETURNING id`, r.table)

	if err := r.db.QueryRowContext(
		ctx,
		query,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.Name,
		user.PasswordHash,
		user.Role,
		user.Active,
	).Scan(&user.ID); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, r.sitesTable), user.ID); err != nil {
		return err
	}
	for _, siteID := range user.SiteIDs {
		if _, err := r.db.ExecContext(
			ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, site_id) VALUES ($1, $2)`, r.sitesTable),
			user.ID, siteID,
		); err != nil {
			return err
		}
	}
	return nil
}
