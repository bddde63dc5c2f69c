package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "cems-cloud/internal/masterdata/domain"
)

const (
	defaultParametersTable      = "parameters"
	defaultMonitoringTypesTable = "monitoring_types"
	defaultAnalysersTable       = "analysers"
)

// ParameterRepository is a Postgres implementation for parameters, monitoring
// types and analysers.
type ParameterRepository struct {
	db              DBTX
	parametersTable string
	typesTable      string
	analysersTable  string
}

// NewParameterRepository constructs a repository.
func NewParameterRepository(db DBTX, opts ...ParameterOption) *ParameterRepository {
	repo := &ParameterRepository{
		db:              db,
		parametersTable: defaultParametersTable,
		typesTable:      defaultMonitoringTypesTable,
		analysersTable:  defaultAnalysersTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ParameterOption configures the repository.
type ParameterOption func(*ParameterRepository)

// WithParameterTables overrides the default table names. Empty names keep the
// defaults.
func WithParameterTables(parameters, types, analysers string) ParameterOption {
	return func(repo *ParameterRepository) {
		if parameters != "" {
			repo.parametersTable = parameters
		}
		if types != "" {
			repo.typesTable = types
		}
		if analysers != "" {
			repo.analysersTable = analysers
		}
	}
}

const parameterColumns = `id, uuid, name, label, unit, min_threshold, max_threshold, monitoring_type_id, created_at, created_by, updated_at, updated_by`

// GetParameter loads a parameter by id. Missing yields (nil, nil).
func (r *ParameterRepository) GetParameter(ctx context.Context, id int64) (*masterdata.Parameter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("parameter repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, parameterColumns, r.parametersTable)

	param, err := scanParameter(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return param, nil
}

// ListParameters returns all parameters ordered by name.
func (r *ParameterRepository) ListParameters(ctx context.Context) ([]masterdata.Parameter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("parameter repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY name`, parameterColumns, r.parametersTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.Parameter
	for rows.Next() {
		param, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *param)
	}
	return out, rows.Err()
}

// SaveParameter upserts a parameter keyed on name.
func (r *ParameterRepository) SaveParameter(ctx context.Context, param *masterdata.Parameter) error {
	if r == nil || r.db == nil {
		return errors.New("parameter repo: nil db")
	}
	if param == nil {
		return errors.New("parameter repo: nil parameter")
	}
	if err := param.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	uuid,
	name,
	label,
	unit,
	min_threshold,
	max_threshold,
	monitoring_type_id,
	created_by,
	updated_by
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $8
)
ON CONFLICT (name)
DO UPDATE SET
	label = EXCLUDED.label,
	unit = EXCLUDED.unit,
	min_threshold = EXCLUDED.min_threshold,
	max_threshold = EXCLUDED.max_threshold,
	monitoring_type_id = EXCLUDED.monitoring_type_id,
	updated_by = EXCLUDED.updated_by,
	updated_at = NOW()
RETURNING id`, r.parametersTable)

	if err := r.db.QueryRowContext(
		ctx,
		query,
		param.UUID,
		param.Name,
		param.Label,
		param.Unit,
		param.MinThreshold,
		param.MaxThreshold,
		param.MonitoringTypeID,
		param.UpdatedBy,
	).Scan(&param.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if param.CreatedAt.IsZero() {
		param.CreatedAt = now
	}
	param.UpdatedAt = now
	return nil
}

// ListMonitoringTypes returns all monitoring types ordered by id.
func (r *ParameterRepository) ListMonitoringTypes(ctx context.Context) ([]masterdata.MonitoringType, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("parameter repo: nil db")
	}

	query := fmt.Sprintf(`SELECT id, name FROM %s ORDER BY id`, r.typesTable)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.MonitoringType
	for rows.Next() {
		var mt masterdata.MonitoringType
		if err := rows.Scan(&mt.ID, &mt.Name); err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

// SaveMonitoringType upserts a monitoring type keyed on name.
func (r *ParameterRepository) SaveMonitoringType(ctx context.Context, mt *masterdata.MonitoringType) error {
	if r == nil || r.db == nil {
		return errors.New("parameter repo: nil db")
	}
	if mt == nil {
		return errors.New("parameter repo: nil monitoring type")
	}
	if err := mt.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (name)
VALUES ($1)
ON CONFLICT (name)
DO UPDATE SET name = EXCLUDED.name
RETURNING id`, r.typesTable)

	return r.db.QueryRowContext(ctx, query, mt.Name).Scan(&mt.ID)
}

// ListAnalysers returns all analysers ordered by name.
func (r *ParameterRepository) ListAnalysers(ctx context.Context) ([]masterdata.Analyser, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("parameter repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, name, uid, make, model, monitoring_type_id
FROM %s
ORDER BY name`, r.analysersTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []masterdata.Analyser
	for rows.Next() {
		var a masterdata.Analyser
		var uid, mk, model sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &uid, &mk, &model, &a.MonitoringTypeID); err != nil {
			return nil, err
		}
		a.UID = uid.String
		a.Make = mk.String
		a.Model = model.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAnalyser upserts an analyser keyed on name.
func (r *ParameterRepository) SaveAnalyser(ctx context.Context, a *masterdata.Analyser) error {
	if r == nil || r.db == nil {
		return errors.New("parameter repo: nil db")
	}
	if a == nil {
		return errors.New("parameter repo: nil analyser")
	}
	if err := a.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (name, uid, make, model, monitoring_type_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name)
DO UPDATE SET
	uid = EXCLUDED.uid,
	make = EXCLUDED.make,
	model = EXCLUDED.model,
	monitoring_type_id = EXCLUDED.monitoring_type_id
RETURNING id`, r.analysersTable)

	return r.db.QueryRowContext(ctx, query, a.Name, a.UID, a.Make, a.Model, a.MonitoringTypeID).Scan(&a.ID)
}

func scanParameter(row rowScanner) (*masterdata.Parameter, error) {
	var param masterdata.Parameter
	var uuid, label, unit sql.NullString
	if err := row.Scan(
		&param.ID,
		&uuid,
		&param.Name,
		&label,
		&unit,
		&param.MinThreshold,
		&param.MaxThreshold,
		&param.MonitoringTypeID,
		&param.CreatedAt,
		&param.CreatedBy,
		&param.UpdatedAt,
		&param.UpdatedBy,
	); err != nil {
		return nil, err
	}
	param.UUID = uuid.String
	param.Label = label.String
	param.Unit = unit.String
	param.CreatedAt = param.CreatedAt.UTC()
	param.UpdatedAt = param.UpdatedAt.UTC()
	return &param, nil
}
