package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// fakeScopes satisfies ScopeAcquirer without a database.
type fakeScopes struct {
	err      error
	acquired int
	released int
}

func (f *fakeScopes) WithScope(ctx context.Context) (context.Context, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.acquired++
	return ctx, func() { f.released++ }, nil
}

// mockMetricNameService is an in-memory services.MetricNameService that
// enforces the two name rules.
type mockMetricNameService struct {
	mu          sync.Mutex
	byName      map[string]*models.UtilizationMetricName
	nodes       map[uuid.UUID][]*models.Node
	lastCreate  models.ProvenanceContext
	lastList    *search.Criteria
	internalErr error
}

func newMockMetricNameService() *mockMetricNameService {
	return &mockMetricNameService{
		byName: make(map[string]*models.UtilizationMetricName),
		nodes:  make(map[uuid.UUID][]*models.Node),
	}
}

func (m *mockMetricNameService) Create(ctx context.Context, name, description string) (*models.UtilizationMetricName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.internalErr != nil {
		return nil, m.internalErr
	}
	m.lastCreate, _ = models.GetProvenance(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ValidationErrors{apperrors.MissingName()}
	}
	if _, exists := m.byName[name]; exists {
		return nil, apperrors.ValidationErrors{apperrors.DuplicateName()}
	}

	now := time.Now()
	rec := &models.UtilizationMetricName{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.byName[name] = rec
	return rec, nil
}

func (m *mockMetricNameService) Update(ctx context.Context, id uuid.UUID, changes models.MetricNameChanges) (*models.UtilizationMetricName, error) {
	return nil, errors.New("not implemented")
}

func (m *mockMetricNameService) Delete(ctx context.Context, id uuid.UUID) error {
	return errors.New("not implemented")
}

func (m *mockMetricNameService) Get(ctx context.Context, id uuid.UUID, includeNodes bool) (*models.UtilizationMetricName, error) {
	return nil, errors.New("not implemented")
}

func (m *mockMetricNameService) GetByName(ctx context.Context, name string) (*models.UtilizationMetricName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byName[strings.TrimSpace(name)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *mockMetricNameService) List(ctx context.Context, criteria *search.Criteria) (*services.MetricNameList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastList = criteria
	if m.internalErr != nil {
		return nil, m.internalErr
	}

	var query string
	for _, cond := range criteria.Conditions {
		if cond.Attribute == "name" && len(cond.Values) > 0 {
			query = strings.ToLower(cond.Values[0])
		}
	}

	out := make([]*models.UtilizationMetricName, 0)
	for name, rec := range m.byName {
		if query == "" || strings.Contains(strings.ToLower(name), query) {
			out = append(out, rec)
		}
	}
	return &services.MetricNameList{
		MetricNames: out,
		Total:       len(out),
		Limit:       criteria.Limit,
		Offset:      criteria.Offset,
	}, nil
}

func (m *mockMetricNameService) UpdateWhere(ctx context.Context, criteria *search.Criteria, changes models.MetricNameChanges) (*services.BulkUpdateResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockMetricNameService) Nodes(ctx context.Context, id uuid.UUID) ([]*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[id], nil
}

func (m *mockMetricNameService) Metadata() models.EntityMetadata {
	return models.MetricNameMetadata.Clone()
}

var _ services.MetricNameService = (*mockMetricNameService)(nil)
