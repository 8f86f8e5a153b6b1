package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
)

// NodeService manages the nodes that reference utilization metric names.
type NodeService interface {
	Create(ctx context.Context, name string, metricNameID *uuid.UUID) (*models.Node, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Node, error)
	// AssignMetricName points a node at a metric name, or detaches it when metricNameID is nil.
	AssignMetricName(ctx context.Context, nodeID uuid.UUID, metricNameID *uuid.UUID) (*models.Node, error)
	ListByMetricName(ctx context.Context, metricNameID uuid.UUID) ([]*models.Node, error)
}

type nodeService struct {
	repo       repositories.NodeRepository
	metricRepo repositories.MetricNameRepository
	authz      auth.Authorizer
	logger     *zap.Logger
}

// NewNodeService creates a new NodeService.
func NewNodeService(
	repo repositories.NodeRepository,
	metricRepo repositories.MetricNameRepository,
	authz auth.Authorizer,
	logger *zap.Logger,
) NodeService {
	return &nodeService{
		repo:       repo,
		metricRepo: metricRepo,
		authz:      authz,
		logger:     logger.Named("node-service"),
	}
}

var _ NodeService = (*nodeService)(nil)

func (s *nodeService) Create(ctx context.Context, name string, metricNameID *uuid.UUID) (*models.Node, error) {
	if err := s.authz.Authorize(ctx, auth.ActionCreate, nil); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ValidationErrors{apperrors.MissingName()}
	}

	if metricNameID != nil {
		if _, err := s.metricRepo.GetByID(ctx, *metricNameID); err != nil {
			return nil, err
		}
	}

	node := &models.Node{Name: name, UtilizationMetricNameID: metricNameID}
	if err := s.repo.Create(ctx, node); err != nil {
		return nil, err
	}

	s.logger.Info("Created node", zap.String("id", node.ID.String()), zap.String("name", node.Name))
	return node, nil
}

func (s *nodeService) Get(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	if err := s.authz.Authorize(ctx, auth.ActionRead, nil); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *nodeService) AssignMetricName(ctx context.Context, nodeID uuid.UUID, metricNameID *uuid.UUID) (*models.Node, error) {
	if metricNameID != nil {
		m, err := s.metricRepo.GetByID(ctx, *metricNameID)
		if err != nil {
			return nil, err
		}
		if err := s.authz.Authorize(ctx, auth.ActionUpdate, m); err != nil {
			return nil, err
		}
	} else if err := s.authz.Authorize(ctx, auth.ActionUpdate, nil); err != nil {
		return nil, err
	}

	if err := s.repo.SetMetricName(ctx, nodeID, metricNameID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, nodeID)
}

func (s *nodeService) ListByMetricName(ctx context.Context, metricNameID uuid.UUID) ([]*models.Node, error) {
	if err := s.authz.Authorize(ctx, auth.ActionRead, nil); err != nil {
		return nil, err
	}
	nodes, err := s.repo.ListByMetricName(ctx, metricNameID)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []*models.Node{}
	}
	return nodes, nil
}
