package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
)

// CommentTarget is a record that accepts comments and can be authorized against.
type CommentTarget interface {
	models.Commentable
	models.Authorizable
}

// CommentService attaches free-text comments to commentable records.
type CommentService interface {
	Add(ctx context.Context, target CommentTarget, title, body string) (*models.Comment, error)
	List(ctx context.Context, target CommentTarget) ([]*models.Comment, error)
}

type commentService struct {
	repo   repositories.CommentRepository
	authz  auth.Authorizer
	logger *zap.Logger
}

// NewCommentService creates a new CommentService.
func NewCommentService(repo repositories.CommentRepository, authz auth.Authorizer, logger *zap.Logger) CommentService {
	return &commentService{
		repo:   repo,
		authz:  authz,
		logger: logger.Named("comment-service"),
	}
}

var _ CommentService = (*commentService)(nil)

func (s *commentService) Add(ctx context.Context, target CommentTarget, title, body string) (*models.Comment, error) {
	if err := s.authz.Authorize(ctx, auth.ActionComment, target); err != nil {
		return nil, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.ValidationErrors{
			apperrors.NewFieldError("comment", apperrors.CodeMissingComment, apperrors.ErrMissingComment),
		}
	}

	c := &models.Comment{
		CommentableType: target.CommentableType(),
		CommentableID:   target.CommentableID(),
		Title:           strings.TrimSpace(title),
		Comment:         body,
	}
	if prov, ok := models.GetProvenance(ctx); ok {
		c.UserID = prov.ActorID()
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Debug("Added comment",
		zap.String("commentable_type", c.CommentableType),
		zap.String("commentable_id", c.CommentableID.String()))

	return c, nil
}

func (s *commentService) List(ctx context.Context, target CommentTarget) ([]*models.Comment, error) {
	if err := s.authz.Authorize(ctx, auth.ActionRead, target); err != nil {
		return nil, err
	}
	comments, err := s.repo.ListFor(ctx, target.CommentableType(), target.CommentableID())
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	return comments, nil
}
