package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/cache"
	"github.com/ekaya-inc/utilization-registry/pkg/config"
	"github.com/ekaya-inc/utilization-registry/pkg/database"
	"github.com/ekaya-inc/utilization-registry/pkg/metrics"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// MetricNameService manages utilization metric names.
type MetricNameService interface {
	// Create validates and stores a new metric name.
	Create(ctx context.Context, name, description string) (*models.UtilizationMetricName, error)

	// Update applies changes to an existing metric name, re-validating the name.
	Update(ctx context.Context, id uuid.UUID, changes models.MetricNameChanges) (*models.UtilizationMetricName, error)

	// Delete removes a metric name, handling referencing nodes per the configured policy.
	Delete(ctx context.Context, id uuid.UUID) error

	// Get returns a metric name by ID, optionally with its nodes.
	Get(ctx context.Context, id uuid.UUID, includeNodes bool) (*models.UtilizationMetricName, error)

	// GetByName returns the metric name whose normalized name matches name.
	GetByName(ctx context.Context, name string) (*models.UtilizationMetricName, error)

	// List returns a page of matches and the total match count.
	List(ctx context.Context, criteria *search.Criteria) (*MetricNameList, error)

	// UpdateWhere applies changes to every record matching criteria.
	UpdateWhere(ctx context.Context, criteria *search.Criteria, changes models.MetricNameChanges) (*BulkUpdateResult, error)

	// Nodes returns the nodes referencing a metric name.
	Nodes(ctx context.Context, id uuid.UUID) ([]*models.Node, error)

	// Metadata returns the static query configuration of metric names.
	Metadata() models.EntityMetadata
}

// MetricNameList is one page of search results.
type MetricNameList struct {
	MetricNames []*models.UtilizationMetricName `json:"utilization_metric_names"`
	Total       int                             `json:"total"`
	Limit       int                             `json:"limit"`
	Offset      int                             `json:"offset"`
}

// BulkUpdateResult reports the outcome of UpdateWhere.
type BulkUpdateResult struct {
	Matched   int             `json:"matched"`
	Succeeded int             `json:"succeeded"`
	Failures  []UpdateFailure `json:"failures,omitempty"`
}

// UpdateFailure describes one record UpdateWhere could not update.
type UpdateFailure struct {
	ID     uuid.UUID                  `json:"id"`
	Name   string                     `json:"name"`
	Error  string                     `json:"error"`
	Fields apperrors.ValidationErrors `json:"fields,omitempty"`
}

// Summary renders the result the way the inventory client reports it.
func (r *BulkUpdateResult) Summary() string {
	return fmt.Sprintf("%d out of %d update(s) succeeded", r.Succeeded, r.Matched)
}

// MetricNameServiceDeps groups the collaborators of the metric name service.
type MetricNameServiceDeps struct {
	Repo        repositories.MetricNameRepository
	NodeRepo    repositories.NodeRepository
	CommentRepo repositories.CommentRepository
	Audit       AuditService
	Authorizer  auth.Authorizer
	Cache       cache.MetricNameCache
	Tx          database.Transactor
	Metrics     *metrics.Metrics
	Policy      config.MetricNamePolicy
}

type metricNameService struct {
	repo        repositories.MetricNameRepository
	nodeRepo    repositories.NodeRepository
	commentRepo repositories.CommentRepository
	audit       AuditService
	authz       auth.Authorizer
	cache       cache.MetricNameCache
	tx          database.Transactor
	metrics     *metrics.Metrics
	policy      config.MetricNamePolicy
	validator   *MetricNameValidator
	logger      *zap.Logger
}

// NewMetricNameService creates a new MetricNameService.
func NewMetricNameService(deps MetricNameServiceDeps, logger *zap.Logger) MetricNameService {
	c := deps.Cache
	if c == nil {
		c = cache.NoopMetricNameCache{}
	}
	return &metricNameService{
		repo:        deps.Repo,
		nodeRepo:    deps.NodeRepo,
		commentRepo: deps.CommentRepo,
		audit:       deps.Audit,
		authz:       deps.Authorizer,
		cache:       c,
		tx:          deps.Tx,
		metrics:     deps.Metrics,
		policy:      deps.Policy,
		validator:   NewMetricNameValidator(deps.Repo, deps.Policy),
		logger:      logger.Named("metric-name-service"),
	}
}

var _ MetricNameService = (*metricNameService)(nil)

// ============================================================================
// Writes
// ============================================================================

func (s *metricNameService) Create(ctx context.Context, name, description string) (*models.UtilizationMetricName, error) {
	if err := s.authz.Authorize(ctx, auth.ActionCreate, nil); err != nil {
		return nil, err
	}

	m := &models.UtilizationMetricName{
		Name:        s.policy.Normalize(name),
		NameKey:     s.policy.NameKey(name),
		Description: description,
	}
	if prov, ok := models.GetProvenance(ctx); ok {
		m.CreatedBy = prov.ActorID()
	}

	if err := s.validate(ctx, m); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, m); err != nil {
			return err
		}
		return s.audit.LogCreate(ctx, m)
	})
	if err != nil {
		s.recordValidationFailure(err)
		return nil, err
	}

	s.invalidate(ctx, m.NameKey)
	s.metrics.Write(models.AuditActionCreate)
	s.logger.Info("Created utilization metric name",
		zap.String("id", m.ID.String()),
		zap.String("name", m.Name))

	return m, nil
}

func (s *metricNameService) Update(ctx context.Context, id uuid.UUID, changes models.MetricNameChanges) (*models.UtilizationMetricName, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, auth.ActionUpdate, m); err != nil {
		return nil, err
	}

	before := m.AuditFields()
	oldKey := m.NameKey

	if changes.Name != nil {
		m.Name = s.policy.Normalize(*changes.Name)
		m.NameKey = s.policy.NameKey(*changes.Name)
	}
	if changes.Description != nil {
		m.Description = *changes.Description
	}

	if err := s.validate(ctx, m); err != nil {
		return nil, err
	}

	diff := models.DiffFields(before, m.AuditFields())
	if len(diff) == 0 {
		return m, nil
	}

	if prov, ok := models.GetProvenance(ctx); ok {
		m.UpdatedBy = prov.ActorID()
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, m); err != nil {
			return err
		}
		return s.audit.LogUpdate(ctx, m, diff)
	})
	if err != nil {
		s.recordValidationFailure(err)
		return nil, err
	}

	s.invalidate(ctx, oldKey, m.NameKey)
	s.metrics.Write(models.AuditActionUpdate)

	return m, nil
}

func (s *metricNameService) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, auth.ActionDelete, m); err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.releaseNodes(ctx, m); err != nil {
			return err
		}
		if err := s.commentRepo.DeleteFor(ctx, m.CommentableType(), m.ID); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, m.ID); err != nil {
			return err
		}
		return s.audit.LogDelete(ctx, m)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, m.NameKey)
	s.metrics.Write(models.AuditActionDelete)
	s.logger.Info("Deleted utilization metric name",
		zap.String("id", m.ID.String()),
		zap.String("name", m.Name),
		zap.String("delete_policy", s.policy.DeletePolicy))

	return nil
}

// releaseNodes applies the delete policy to nodes referencing m.
func (s *metricNameService) releaseNodes(ctx context.Context, m *models.UtilizationMetricName) error {
	switch s.policy.DeletePolicy {
	case config.DeletePolicyNullify:
		n, err := s.nodeRepo.ClearMetricName(ctx, m.ID)
		if err != nil {
			return err
		}
		s.logger.Debug("Cleared node references", zap.Int64("nodes", n))
		return nil
	case config.DeletePolicyCascade:
		n, err := s.nodeRepo.DeleteByMetricName(ctx, m.ID)
		if err != nil {
			return err
		}
		s.logger.Debug("Deleted referencing nodes", zap.Int64("nodes", n))
		return nil
	default:
		counts, err := s.nodeRepo.CountByMetricNames(ctx, []uuid.UUID{m.ID})
		if err != nil {
			return err
		}
		if n := counts[m.ID]; n > 0 {
			return fmt.Errorf("%w: %d node(s) reference %q", apperrors.ErrHasDependents, n, m.Name)
		}
		return nil
	}
}

// UpdateWhere updates matches one at a time so one rejected record does not
// block the rest.
func (s *metricNameService) UpdateWhere(ctx context.Context, criteria *search.Criteria, changes models.MetricNameChanges) (*BulkUpdateResult, error) {
	if criteria.IsEmpty() {
		return nil, fmt.Errorf("%w: bulk update requires at least one condition", search.ErrInvalidCriteria)
	}
	if changes.IsEmpty() {
		return nil, fmt.Errorf("%w: no changes given", search.ErrInvalidCriteria)
	}

	matches, err := s.allMatches(ctx, criteria)
	if err != nil {
		return nil, err
	}

	result := &BulkUpdateResult{Matched: len(matches)}
	for _, m := range matches {
		if _, err := s.Update(ctx, m.ID, changes); err != nil {
			failure := UpdateFailure{ID: m.ID, Name: m.Name, Error: err.Error()}
			if ve, ok := apperrors.AsValidationErrors(err); ok {
				failure.Fields = ve
			}
			result.Failures = append(result.Failures, failure)
			continue
		}
		result.Succeeded++
	}

	s.logger.Info("Bulk update finished",
		zap.Int("matched", result.Matched),
		zap.Int("succeeded", result.Succeeded))

	return result, nil
}

// ============================================================================
// Reads
// ============================================================================

func (s *metricNameService) Get(ctx context.Context, id uuid.UUID, includeNodes bool) (*models.UtilizationMetricName, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, auth.ActionRead, m); err != nil {
		return nil, err
	}

	if includeNodes {
		nodes, err := s.nodeRepo.ListByMetricName(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		m.Nodes = nodes
	}

	return m, nil
}

func (s *metricNameService) GetByName(ctx context.Context, name string) (*models.UtilizationMetricName, error) {
	if err := s.authz.Authorize(ctx, auth.ActionRead, nil); err != nil {
		return nil, err
	}

	key := s.policy.NameKey(name)
	if key == "" {
		return nil, apperrors.ErrNotFound
	}

	cached, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Metric name cache read failed", zap.String("name_key", key), zap.Error(err))
	}
	s.metrics.CacheLookup(hit)
	if hit {
		return cached, nil
	}

	m, err := s.repo.GetByNameKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.ErrNotFound
	}

	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.Warn("Metric name cache write failed", zap.String("name_key", key), zap.Error(err))
	}

	return m, nil
}

func (s *metricNameService) List(ctx context.Context, criteria *search.Criteria) (*MetricNameList, error) {
	if err := s.authz.Authorize(ctx, auth.ActionRead, nil); err != nil {
		return nil, err
	}

	names, err := s.list(ctx, criteria)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.Count(ctx, criteria)
	if err != nil {
		return nil, err
	}

	if criteria.Includes("nodes") && len(names) > 0 {
		ids := make([]uuid.UUID, len(names))
		for i, m := range names {
			ids[i] = m.ID
		}
		grouped, err := s.nodeRepo.ListByMetricNames(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, m := range names {
			m.Nodes = grouped[m.ID]
		}
	}

	if names == nil {
		names = []*models.UtilizationMetricName{}
	}

	return &MetricNameList{
		MetricNames: names,
		Total:       total,
		Limit:       criteria.Limit,
		Offset:      criteria.Offset,
	}, nil
}

func (s *metricNameService) list(ctx context.Context, criteria *search.Criteria) ([]*models.UtilizationMetricName, error) {
	names, err := s.repo.Search(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("search utilization metric names: %w", err)
	}
	return names, nil
}

// allMatches collects every record the criteria select before any of them is
// changed, so renames cannot shift later pages. An explicit limit is honored.
func (s *metricNameService) allMatches(ctx context.Context, criteria *search.Criteria) ([]*models.UtilizationMetricName, error) {
	if criteria.LimitSet {
		return s.list(ctx, criteria)
	}

	page := *criteria
	page.Limit = search.DefaultLimit

	var all []*models.UtilizationMetricName
	for {
		names, err := s.list(ctx, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, names...)
		if len(names) < page.Limit {
			return all, nil
		}
		page.Offset += len(names)
	}
}

func (s *metricNameService) Nodes(ctx context.Context, id uuid.UUID) ([]*models.Node, error) {
	m, err := s.Get(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if m.Nodes == nil {
		return []*models.Node{}, nil
	}
	return m.Nodes, nil
}

func (s *metricNameService) Metadata() models.EntityMetadata {
	return models.MetricNameMetadata.Clone()
}

// ============================================================================
// Helpers
// ============================================================================

func (s *metricNameService) validate(ctx context.Context, m *models.UtilizationMetricName) error {
	if err := s.validator.Validate(ctx, m); err != nil {
		s.recordValidationFailure(err)
		return err
	}
	return nil
}

func (s *metricNameService) recordValidationFailure(err error) {
	ve, ok := apperrors.AsValidationErrors(err)
	if !ok {
		return
	}
	for _, fe := range ve {
		s.metrics.ValidationFailure(fe.Code)
	}
	s.logger.Debug("Rejected utilization metric name", zap.Error(err))
}

// invalidate drops cached lookups; a failure only costs a stale read until TTL.
func (s *metricNameService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Metric name cache invalidation failed", zap.Strings("name_keys", keys), zap.Error(err))
	}
}
