package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type mockMetricNameService struct {
	created     *models.UtilizationMetricName
	metricName  *models.UtilizationMetricName
	list        *services.MetricNameList
	bulk        *services.BulkUpdateResult
	nodes       []*models.Node
	err         error
	lastCreate  [2]string
	lastChanges models.MetricNameChanges
	lastInclude bool
	lastCrit    *search.Criteria
}

func (m *mockMetricNameService) Create(ctx context.Context, name, description string) (*models.UtilizationMetricName, error) {
	m.lastCreate = [2]string{name, description}
	if m.err != nil {
		return nil, m.err
	}
	return m.created, nil
}

func (m *mockMetricNameService) Update(ctx context.Context, id uuid.UUID, changes models.MetricNameChanges) (*models.UtilizationMetricName, error) {
	m.lastChanges = changes
	if m.err != nil {
		return nil, m.err
	}
	return m.metricName, nil
}

func (m *mockMetricNameService) Delete(ctx context.Context, id uuid.UUID) error {
	return m.err
}

func (m *mockMetricNameService) Get(ctx context.Context, id uuid.UUID, includeNodes bool) (*models.UtilizationMetricName, error) {
	m.lastInclude = includeNodes
	if m.err != nil {
		return nil, m.err
	}
	if m.metricName == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.metricName, nil
}

func (m *mockMetricNameService) GetByName(ctx context.Context, name string) (*models.UtilizationMetricName, error) {
	return m.metricName, m.err
}

func (m *mockMetricNameService) List(ctx context.Context, criteria *search.Criteria) (*services.MetricNameList, error) {
	m.lastCrit = criteria
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func (m *mockMetricNameService) UpdateWhere(ctx context.Context, criteria *search.Criteria, changes models.MetricNameChanges) (*services.BulkUpdateResult, error) {
	m.lastCrit = criteria
	m.lastChanges = changes
	if m.err != nil {
		return nil, m.err
	}
	return m.bulk, nil
}

func (m *mockMetricNameService) Nodes(ctx context.Context, id uuid.UUID) ([]*models.Node, error) {
	return m.nodes, m.err
}

func (m *mockMetricNameService) Metadata() models.EntityMetadata {
	return models.MetricNameMetadata.Clone()
}

type mockCommentService struct {
	comments []*models.Comment
	err      error
}

func (m *mockCommentService) Add(ctx context.Context, target services.CommentTarget, title, body string) (*models.Comment, error) {
	if m.err != nil {
		return nil, m.err
	}
	c := &models.Comment{ID: uuid.New(), CommentableType: target.CommentableType(), CommentableID: target.CommentableID(), Title: title, Comment: body}
	m.comments = append(m.comments, c)
	return c, nil
}

func (m *mockCommentService) List(ctx context.Context, target services.CommentTarget) ([]*models.Comment, error) {
	return m.comments, m.err
}

type mockAuditService struct {
	entries []*models.AuditLogEntry
}

func (m *mockAuditService) LogCreate(context.Context, models.Auditable) error { return nil }
func (m *mockAuditService) LogUpdate(context.Context, models.Auditable, map[string]models.FieldChange) error {
	return nil
}
func (m *mockAuditService) LogDelete(context.Context, models.Auditable) error { return nil }
func (m *mockAuditService) GetRecent(context.Context, int) ([]*models.AuditLogEntry, error) {
	return m.entries, nil
}
func (m *mockAuditService) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.AuditLogEntry, error) {
	return m.entries, nil
}

type mockReportService struct {
	report  *services.Report
	err     error
	lastReq services.ReportRequest
}

func (m *mockReportService) Generate(ctx context.Context, req services.ReportRequest) (*services.Report, error) {
	m.lastReq = req
	return m.report, m.err
}

type mockNodeService struct {
	node        *models.Node
	err         error
	lastName    string
	lastMetricN *uuid.UUID
}

func (m *mockNodeService) Create(ctx context.Context, name string, metricNameID *uuid.UUID) (*models.Node, error) {
	m.lastName, m.lastMetricN = name, metricNameID
	return m.node, m.err
}

func (m *mockNodeService) Get(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	return m.node, m.err
}

func (m *mockNodeService) AssignMetricName(ctx context.Context, nodeID uuid.UUID, metricNameID *uuid.UUID) (*models.Node, error) {
	m.lastMetricN = metricNameID
	return m.node, m.err
}

func (m *mockNodeService) ListByMetricName(ctx context.Context, metricNameID uuid.UUID) ([]*models.Node, error) {
	return nil, m.err
}

var nopLogger = zap.NewNop()

// stubAuthService authenticates every request carrying an Authorization header.
type stubAuthService struct {
	claims *auth.Claims
}

func (s *stubAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if r.Header.Get("Authorization") == "" {
		return nil, "", errors.New("missing authorization")
	}
	return s.claims, "token", nil
}

func newTestAuthMiddleware() *auth.Middleware {
	claims := &auth.Claims{Roles: []string{models.RoleAdmin}}
	claims.Subject = uuid.NewString()
	return auth.NewMiddleware(&stubAuthService{claims: claims}, nopLogger)
}

func passthroughScope(next http.HandlerFunc) http.HandlerFunc { return next }
