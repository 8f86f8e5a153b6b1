package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/database"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// metricNameUniqueConstraint is the storage-level guard on name uniqueness.
const metricNameUniqueConstraint = "utilization_metric_names_name_key_unique"

// metricNameColumns maps searchable attributes to SQL expressions.
var metricNameColumns = map[string]string{
	"id":          "id::text",
	"name":        "name",
	"description": "coalesce(description, '')",
}

// defaultScopeOrder implements the def_scope named scope.
const defaultScopeOrder = "ORDER BY name, id"

const metricNameSelect = `
	SELECT id, name, name_key, description, created_by, updated_by, created_at, updated_at
	FROM utilization_metric_names`

// MetricNameRepository provides data access for utilization metric names.
type MetricNameRepository interface {
	Create(ctx context.Context, m *models.UtilizationMetricName) error
	Update(ctx context.Context, m *models.UtilizationMetricName) error
	Delete(ctx context.Context, id uuid.UUID) error
	// GetByID returns apperrors.ErrNotFound when no record has id.
	GetByID(ctx context.Context, id uuid.UUID) (*models.UtilizationMetricName, error)
	// GetByNameKey returns nil, nil when no record uses key.
	GetByNameKey(ctx context.Context, key string) (*models.UtilizationMetricName, error)
	// Search returns records matching criteria in default scope order.
	Search(ctx context.Context, criteria *search.Criteria) ([]*models.UtilizationMetricName, error)
	Count(ctx context.Context, criteria *search.Criteria) (int, error)
	// ListForRekey returns every record and locks the rows. Call it inside a transaction.
	ListForRekey(ctx context.Context) ([]*models.UtilizationMetricName, error)
	// SetNameKeys replaces the stored name_key of each listed ID. Call it inside a transaction.
	SetNameKeys(ctx context.Context, keys map[uuid.UUID]string) error
}

type metricNameRepository struct{}

// NewMetricNameRepository creates a new MetricNameRepository.
func NewMetricNameRepository() MetricNameRepository {
	return &metricNameRepository{}
}

var _ MetricNameRepository = (*metricNameRepository)(nil)

// ============================================================================
// CRUD Operations
// ============================================================================

func (r *metricNameRepository) Create(ctx context.Context, m *models.UtilizationMetricName) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now()

	query := `
		INSERT INTO utilization_metric_names (
			id, name, name_key, description, created_by, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $5, $6, $6)
		RETURNING created_at, updated_at`

	err := scope.Q().QueryRow(ctx, query,
		m.ID,
		m.Name,
		m.NameKey,
		nullString(m.Description),
		m.CreatedBy,
		now,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isDuplicateName(err) {
			return apperrors.ValidationErrors{apperrors.DuplicateName()}
		}
		return fmt.Errorf("failed to create utilization metric name: %w", err)
	}
	m.UpdatedBy = m.CreatedBy

	return nil
}

func (r *metricNameRepository) Update(ctx context.Context, m *models.UtilizationMetricName) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE utilization_metric_names
		SET name = $2, name_key = $3, description = $4, updated_by = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := scope.Q().QueryRow(ctx, query,
		m.ID,
		m.Name,
		m.NameKey,
		nullString(m.Description),
		m.UpdatedBy,
	).Scan(&m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		if isDuplicateName(err) {
			return apperrors.ValidationErrors{apperrors.DuplicateName()}
		}
		return fmt.Errorf("failed to update utilization metric name: %w", err)
	}

	return nil
}

func (r *metricNameRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	result, err := scope.Q().Exec(ctx, `DELETE FROM utilization_metric_names WHERE id = $1`, id)
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok && code == pgForeignKeyViolation {
			return apperrors.ErrHasDependents
		}
		return fmt.Errorf("failed to delete utilization metric name: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ============================================================================
// Queries
// ============================================================================

func (r *metricNameRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UtilizationMetricName, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := scope.Q().QueryRow(ctx, metricNameSelect+` WHERE id = $1`, id)
	m, err := scanMetricName(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return m, nil
}

func (r *metricNameRepository) GetByNameKey(ctx context.Context, key string) (*models.UtilizationMetricName, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := scope.Q().QueryRow(ctx, metricNameSelect+` WHERE name_key = $1`, key)
	m, err := scanMetricName(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Name not in use
		}
		return nil, err
	}

	return m, nil
}

func (r *metricNameRepository) Search(ctx context.Context, criteria *search.Criteria) ([]*models.UtilizationMetricName, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	b := newWhereBuilder(metricNameColumns)
	if err := b.add(criteria.Conditions); err != nil {
		return nil, err
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = search.DefaultLimit
	}
	query := fmt.Sprintf("%s %s %s LIMIT %s OFFSET %s",
		metricNameSelect, b.where(), defaultScopeOrder, b.arg(limit), b.arg(criteria.Offset))

	rows, err := scope.Q().Query(ctx, query, b.args...)
	if err != nil {
		return nil, wrapSearchError(err, "search utilization metric names")
	}
	defer rows.Close()

	var names []*models.UtilizationMetricName
	for rows.Next() {
		m, err := scanMetricName(rows)
		if err != nil {
			return nil, err
		}
		names = append(names, m)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapSearchError(err, "iterate utilization metric names")
	}

	return names, nil
}

func (r *metricNameRepository) Count(ctx context.Context, criteria *search.Criteria) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	b := newWhereBuilder(metricNameColumns)
	if err := b.add(criteria.Conditions); err != nil {
		return 0, err
	}

	var count int
	query := "SELECT count(*) FROM utilization_metric_names " + b.where()
	if err := scope.Q().QueryRow(ctx, query, b.args...).Scan(&count); err != nil {
		return 0, wrapSearchError(err, "count utilization metric names")
	}

	return count, nil
}

// ============================================================================
// Name key maintenance
// ============================================================================

func (r *metricNameRepository) ListForRekey(ctx context.Context) ([]*models.UtilizationMetricName, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Q().Query(ctx, metricNameSelect+" "+defaultScopeOrder+" FOR UPDATE")
	if err != nil {
		return nil, fmt.Errorf("failed to list utilization metric names: %w", err)
	}
	defer rows.Close()

	var names []*models.UtilizationMetricName
	for rows.Next() {
		m, err := scanMetricName(rows)
		if err != nil {
			return nil, err
		}
		names = append(names, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating utilization metric names: %w", err)
	}

	return names, nil
}

// SetNameKeys moves the affected rows to placeholder keys first so that two
// records trading keys never trip the unique constraint midway.
func (r *metricNameRepository) SetNameKeys(ctx context.Context, keys map[uuid.UUID]string) error {
	if len(keys) == 0 {
		return nil
	}
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	ids := make([]string, 0, len(keys))
	values := make([]string, 0, len(keys))
	for id, key := range keys {
		ids = append(ids, id.String())
		values = append(values, key)
	}

	_, err := scope.Q().Exec(ctx, `
		UPDATE utilization_metric_names
		SET name_key = '~rekey:' || id::text
		WHERE id::text = ANY($1::text[])`, ids)
	if err != nil {
		return fmt.Errorf("failed to clear name keys: %w", err)
	}

	_, err = scope.Q().Exec(ctx, `
		UPDATE utilization_metric_names AS t
		SET name_key = v.key, updated_at = now()
		FROM unnest($1::text[], $2::text[]) AS v(id, key)
		WHERE t.id = v.id::uuid`, ids, values)
	if err != nil {
		if isDuplicateName(err) {
			return apperrors.ValidationErrors{apperrors.DuplicateName()}
		}
		return fmt.Errorf("failed to set name keys: %w", err)
	}

	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func isDuplicateName(err error) bool {
	code, constraint, ok := pgErrorCode(err)
	return ok && code == pgUniqueViolation && constraint == metricNameUniqueConstraint
}

func scanMetricName(row pgx.Row) (*models.UtilizationMetricName, error) {
	var m models.UtilizationMetricName
	var description *string

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.NameKey,
		&description,
		&m.CreatedBy,
		&m.UpdatedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan utilization metric name: %w", err)
	}
	m.Description = derefString(description)

	return &m, nil
}
