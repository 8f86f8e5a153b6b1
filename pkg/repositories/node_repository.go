package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/database"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// NodeRepository provides data access for the nodes that reference metric names.
type NodeRepository interface {
	Create(ctx context.Context, node *models.Node) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Node, error)
	ListByMetricName(ctx context.Context, metricNameID uuid.UUID) ([]*models.Node, error)
	// ListByMetricNames groups the nodes of several metric names in one query.
	ListByMetricNames(ctx context.Context, metricNameIDs []uuid.UUID) (map[uuid.UUID][]*models.Node, error)
	CountByMetricNames(ctx context.Context, metricNameIDs []uuid.UUID) (map[uuid.UUID]int, error)
	// SetMetricName points a node at metricNameID, or clears the reference when nil.
	SetMetricName(ctx context.Context, nodeID uuid.UUID, metricNameID *uuid.UUID) error
	// ClearMetricName nulls the reference on every node pointing at metricNameID.
	ClearMetricName(ctx context.Context, metricNameID uuid.UUID) (int64, error)
	DeleteByMetricName(ctx context.Context, metricNameID uuid.UUID) (int64, error)
}

type nodeRepository struct{}

// NewNodeRepository creates a new NodeRepository.
func NewNodeRepository() NodeRepository {
	return &nodeRepository{}
}

var _ NodeRepository = (*nodeRepository)(nil)

const nodeSelect = `
	SELECT id, name, utilization_metric_name_id, created_at, updated_at
	FROM nodes`

func (r *nodeRepository) Create(ctx context.Context, node *models.Node) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}

	query := `
		INSERT INTO nodes (id, name, utilization_metric_name_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := scope.Q().QueryRow(ctx, query, node.ID, node.Name, node.UtilizationMetricNameID).
		Scan(&node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok {
			switch code {
			case pgUniqueViolation:
				return apperrors.ErrConflict
			case pgForeignKeyViolation:
				return apperrors.ErrNotFound
			}
		}
		return fmt.Errorf("failed to create node: %w", err)
	}

	return nil
}

func (r *nodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	node, err := scanNode(scope.Q().QueryRow(ctx, nodeSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return node, nil
}

func (r *nodeRepository) ListByMetricName(ctx context.Context, metricNameID uuid.UUID) ([]*models.Node, error) {
	grouped, err := r.ListByMetricNames(ctx, []uuid.UUID{metricNameID})
	if err != nil {
		return nil, err
	}
	return grouped[metricNameID], nil
}

func (r *nodeRepository) ListByMetricNames(ctx context.Context, metricNameIDs []uuid.UUID) (map[uuid.UUID][]*models.Node, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	grouped := make(map[uuid.UUID][]*models.Node)
	if len(metricNameIDs) == 0 {
		return grouped, nil
	}

	rows, err := scope.Q().Query(ctx,
		nodeSelect+` WHERE utilization_metric_name_id = ANY($1) ORDER BY name`, metricNameIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		grouped[*node.UtilizationMetricNameID] = append(grouped[*node.UtilizationMetricNameID], node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return grouped, nil
}

func (r *nodeRepository) CountByMetricNames(ctx context.Context, metricNameIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	counts := make(map[uuid.UUID]int, len(metricNameIDs))
	if len(metricNameIDs) == 0 {
		return counts, nil
	}

	rows, err := scope.Q().Query(ctx, `
		SELECT utilization_metric_name_id, count(*)
		FROM nodes
		WHERE utilization_metric_name_id = ANY($1)
		GROUP BY utilization_metric_name_id`, metricNameIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan node count: %w", err)
		}
		counts[id] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node counts: %w", err)
	}

	return counts, nil
}

func (r *nodeRepository) SetMetricName(ctx context.Context, nodeID uuid.UUID, metricNameID *uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	result, err := scope.Q().Exec(ctx, `
		UPDATE nodes SET utilization_metric_name_id = $2, updated_at = now()
		WHERE id = $1`, nodeID, metricNameID)
	if err != nil {
		if code, _, ok := pgErrorCode(err); ok && code == pgForeignKeyViolation {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update node: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *nodeRepository) ClearMetricName(ctx context.Context, metricNameID uuid.UUID) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	result, err := scope.Q().Exec(ctx, `
		UPDATE nodes SET utilization_metric_name_id = NULL, updated_at = now()
		WHERE utilization_metric_name_id = $1`, metricNameID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear node references: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *nodeRepository) DeleteByMetricName(ctx context.Context, metricNameID uuid.UUID) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	result, err := scope.Q().Exec(ctx, `DELETE FROM nodes WHERE utilization_metric_name_id = $1`, metricNameID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanNode(row pgx.Row) (*models.Node, error) {
	var node models.Node

	err := row.Scan(
		&node.ID,
		&node.Name,
		&node.UtilizationMetricNameID,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	return &node, nil
}
