package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/utilization-registry/pkg/database"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// CommentRepository provides data access for comments on commentable records.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	ListFor(ctx context.Context, commentableType string, commentableID uuid.UUID) ([]*models.Comment, error)
	DeleteFor(ctx context.Context, commentableType string, commentableID uuid.UUID) error
}

type commentRepository struct{}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository() CommentRepository {
	return &commentRepository{}
}

var _ CommentRepository = (*commentRepository)(nil)

func (r *commentRepository) Create(ctx context.Context, c *models.Comment) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO comments (id, commentable_type, commentable_id, title, comment, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := scope.Q().QueryRow(ctx, query,
		c.ID,
		c.CommentableType,
		c.CommentableID,
		nullString(c.Title),
		c.Comment,
		c.UserID,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}

	return nil
}

func (r *commentRepository) ListFor(ctx context.Context, commentableType string, commentableID uuid.UUID) ([]*models.Comment, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Q().Query(ctx, `
		SELECT id, commentable_type, commentable_id, title, comment, user_id, created_at
		FROM comments
		WHERE commentable_type = $1 AND commentable_id = $2
		ORDER BY created_at, id`, commentableType, commentableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}

	return comments, nil
}

func (r *commentRepository) DeleteFor(ctx context.Context, commentableType string, commentableID uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	_, err := scope.Q().Exec(ctx,
		`DELETE FROM comments WHERE commentable_type = $1 AND commentable_id = $2`,
		commentableType, commentableID)
	if err != nil {
		return fmt.Errorf("failed to delete comments: %w", err)
	}

	return nil
}

func scanComment(row pgx.Row) (*models.Comment, error) {
	var c models.Comment
	var title *string

	if err := row.Scan(&c.ID, &c.CommentableType, &c.CommentableID, &title, &c.Comment, &c.UserID, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan comment: %w", err)
	}
	c.Title = derefString(title)

	return &c, nil
}
