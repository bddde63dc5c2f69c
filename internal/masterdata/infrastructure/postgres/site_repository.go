package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	masterdata "cems-cloud/internal/masterdata/domain"
)

const defaultSitesTable = "site"

// SiteRepository is a Postgres implementation for sites.
type SiteRepository struct {
	db    DBTX
	table string
}

// NewSiteRepository constructs a repository.
func NewSiteRepository(db DBTX, opts ...SiteOption) *SiteRepository {
	repo := &SiteRepository{db: db, table: defaultSitesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SiteOption configures the repository.
type SiteOption func(*SiteRepository)

// WithSiteTable overrides the default table name.
func WithSiteTable(table string) SiteOption {
	return func(repo *SiteRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const siteColumns = `id, site_uid, name, address, city, state, latitude, longitude, group_id, group_name, auth_key, auth_expiry, created_at, created_by, updated_at, updated_by`

// Get loads a site by id. A missing site yields (nil, nil).
func (r *SiteRepository) Get(ctx context.Context, id int64) (*masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, siteColumns, r.table)

	site, err := scanSite(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return site, nil
}

// List returns all sites ordered by name.
func (r *SiteRepository) List(ctx context.Context) ([]masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY name`, siteColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSites(rows)
}

// ListByIDs returns the sites matching the given ids.
func (r *SiteRepository) ListByIDs(ctx context.Context, ids []int64) ([]masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id IN (%s)
ORDER BY name`, siteColumns, r.table, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSites(rows)
}

// Save upserts a site keyed on site_uid and backfills the generated id.
func (r *SiteRepository) Save(ctx context.Context, site *masterdata.Site) error {
	if r == nil || r.db == nil {
		return errors.New("site repo: nil db")
	}
	if site == nil {
		return errors.New("site repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	site_uid,
	name,
	address,
	city,
	state,
	latitude,
	longitude,
	group_id,
	group_name,
	auth_key,
	auth_expiry,
	created_by,
	updated_by
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12
)
ON CONFLICT (site_uid)
DO UPDATE SET
	name = EXCLUDED.name,
	address = EXCLUDED.address,
	city = EXCLUDED.city,
	state = EXCLUDED.state,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	group_id = EXCLUDED.group_id,
	group_name = EXCLUDED.group_name,
	auth_key = EXCLUDED.auth_key,
	auth_expiry = EXCLUDED.auth_expiry,
	updated_by = EXCLUDED.updated_by,
	updated_at = NOW()
RETURNING id`, r.table)

	if err := r.db.QueryRowContext(
		ctx,
		query,
		site.SiteUID,
		site.Name,
		site.Address,
		site.City,
		site.State,
		site.Latitude,
		site.Longitude,
		site.GroupID,
		site.GroupName,
		site.AuthKey,
		site.AuthExpiry,
		site.UpdatedBy,
	).Scan(&site.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}
	site.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (*masterdata.Site, error) {
	var site masterdata.Site
	var address, city, state, groupName, authKey sql.NullString
	if err := row.Scan(
		&site.ID,
		&site.SiteUID,
		&site.Name,
		&address,
		&city,
		&state,
		&site.Latitude,
		&site.Longitude,
		&site.GroupID,
		&groupName,
		&authKey,
		&site.AuthExpiry,
		&site.CreatedAt,
		&site.CreatedBy,
		&site.UpdatedAt,
		&site.UpdatedBy,
	); err != nil {
		return nil, err
	}
	site.Address = address.String
	site.City = city.String
	site.State = state.String
	site.GroupName = groupName.String
	site.AuthKey = authKey.String
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()
	return &site, nil
}

func collectSites(rows *sql.Rows) ([]masterdata.Site, error) {
	var out []masterdata.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *site)
	}
	return out, rows.Err()
}
