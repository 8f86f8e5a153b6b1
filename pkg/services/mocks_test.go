package services

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// ============================================================================
// Repositories
// ============================================================================

// mockMetricNameRepository stores metric names in memory and enforces
// uniqueness on NameKey like the database constraint does.
type mockMetricNameRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.UtilizationMetricName

	getByNameKeyErr  error
	createErr        error
	updateCalls      int
	setNameKeysCalls int
}

func newMockMetricNameRepository() *mockMetricNameRepository {
	return &mockMetricNameRepository{records: make(map[uuid.UUID]*models.UtilizationMetricName)}
}

func (m *mockMetricNameRepository) Create(ctx context.Context, rec *models.UtilizationMetricName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, r := range m.records {
		if r.NameKey == rec.NameKey {
			return apperrors.ValidationErrors{apperrors.DuplicateName()}
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockMetricNameRepository) Update(ctx context.Context, rec *models.UtilizationMetricName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if _, ok := m.records[rec.ID]; !ok {
		return apperrors.ErrNotFound
	}
	for id, r := range m.records {
		if id != rec.ID && r.NameKey == rec.NameKey {
			return apperrors.ValidationErrors{apperrors.DuplicateName()}
		}
	}
	rec.UpdatedAt = time.Now()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockMetricNameRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockMetricNameRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UtilizationMetricName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockMetricNameRepository) GetByNameKey(ctx context.Context, key string) (*models.UtilizationMetricName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getByNameKeyErr != nil {
		return nil, m.getByNameKeyErr
	}
	for _, r := range m.records {
		if r.NameKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

// Search supports exact and contains conditions, which is all the tests need.
func (m *mockMetricNameRepository) Search(ctx context.Context, c *search.Criteria) ([]*models.UtilizationMetricName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UtilizationMetricName
	for _, r := range m.records {
		if matches(r, c) {
			cp := *r
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.UtilizationMetricName) int { return strings.Compare(a.Name, b.Name) })
	if c != nil && c.Offset > 0 {
		if c.Offset >= len(out) {
			return nil, nil
		}
		out = out[c.Offset:]
	}
	if c != nil && c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

func (m *mockMetricNameRepository) Count(ctx context.Context, c *search.Criteria) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if matches(r, c) {
			n++
		}
	}
	return n, nil
}

func (m *mockMetricNameRepository) ListForRekey(ctx context.Context) ([]*models.UtilizationMetricName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.UtilizationMetricName, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// SetNameKeys applies all keys at once and rejects a final state with duplicates.
func (m *mockMetricNameRepository) SetNameKeys(ctx context.Context, keys map[uuid.UUID]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setNameKeysCalls++
	seen := make(map[string]bool, len(m.records))
	for id, r := range m.records {
		key := r.NameKey
		if k, ok := keys[id]; ok {
			key = k
		}
		if seen[key] {
			return apperrors.ValidationErrors{apperrors.DuplicateName()}
		}
		seen[key] = true
	}
	for id, key := range keys {
		if r, ok := m.records[id]; ok {
			r.NameKey = key
		}
	}
	return nil
}

func matches(r *models.UtilizationMetricName, c *search.Criteria) bool {
	if c == nil {
		return true
	}
	for _, cond := range c.Conditions {
		var value string
		switch cond.Attribute {
		case "name":
			value = r.Name
		case "description":
			value = r.Description
		case "id":
			value = r.ID.String()
		}
		ok := false
		for _, v := range cond.Values {
			switch cond.Op {
			case search.OpExact:
				ok = ok || value == v
			default:
				ok = ok || strings.Contains(strings.ToLower(value), strings.ToLower(v))
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

type mockNodeRepository struct {
	nodes map[uuid.UUID]*models.Node

	clearCalls, cascadeCalls int
}

func newMockNodeRepository() *mockNodeRepository {
	return &mockNodeRepository{nodes: make(map[uuid.UUID]*models.Node)}
}

func (m *mockNodeRepository) add(name string, metricNameID *uuid.UUID) *models.Node {
	n := &models.Node{ID: uuid.New(), Name: name, UtilizationMetricNameID: metricNameID}
	m.nodes[n.ID] = n
	return n
}

func (m *mockNodeRepository) Create(ctx context.Context, node *models.Node) error {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	m.nodes[node.ID] = node
	return nil
}

func (m *mockNodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return n, nil
}

func (m *mockNodeRepository) ListByMetricName(ctx context.Context, metricNameID uuid.UUID) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range m.nodes {
		if n.UtilizationMetricNameID != nil && *n.UtilizationMetricNameID == metricNameID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNodeRepository) ListByMetricNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]*models.Node, error) {
	out := make(map[uuid.UUID][]*models.Node)
	for _, n := range m.nodes {
		if n.UtilizationMetricNameID != nil && slices.Contains(ids, *n.UtilizationMetricNameID) {
			out[*n.UtilizationMetricNameID] = append(out[*n.UtilizationMetricNameID], n)
		}
	}
	return out, nil
}

func (m *mockNodeRepository) CountByMetricNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int)
	for _, n := range m.nodes {
		if n.UtilizationMetricNameID != nil && slices.Contains(ids, *n.UtilizationMetricNameID) {
			out[*n.UtilizationMetricNameID]++
		}
	}
	return out, nil
}

func (m *mockNodeRepository) SetMetricName(ctx context.Context, nodeID uuid.UUID, metricNameID *uuid.UUID) error {
	n, ok := m.nodes[nodeID]
	if !ok {
		return apperrors.ErrNotFound
	}
	n.UtilizationMetricNameID = metricNameID
	return nil
}

func (m *mockNodeRepository) ClearMetricName(ctx context.Context, metricNameID uuid.UUID) (int64, error) {
	m.clearCalls++
	var n int64
	for _, node := range m.nodes {
		if node.UtilizationMetricNameID != nil && *node.UtilizationMetricNameID == metricNameID {
			node.UtilizationMetricNameID = nil
			n++
		}
	}
	return n, nil
}

func (m *mockNodeRepository) DeleteByMetricName(ctx context.Context, metricNameID uuid.UUID) (int64, error) {
	m.cascadeCalls++
	var n int64
	for id, node := range m.nodes {
		if node.UtilizationMetricNameID != nil && *node.UtilizationMetricNameID == metricNameID {
			delete(m.nodes, id)
			n++
		}
	}
	return n, nil
}

type mockCommentRepository struct {
	comments []*models.Comment
}

func (m *mockCommentRepository) Create(ctx context.Context, c *models.Comment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.comments = append(m.comments, c)
	return nil
}

func (m *mockCommentRepository) ListFor(ctx context.Context, commentableType string, id uuid.UUID) ([]*models.Comment, error) {
	var out []*models.Comment
	for _, c := range m.comments {
		if c.CommentableType == commentableType && c.CommentableID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCommentRepository) DeleteFor(ctx context.Context, commentableType string, id uuid.UUID) error {
	m.comments = slices.DeleteFunc(m.comments, func(c *models.Comment) bool {
		return c.CommentableType == commentableType && c.CommentableID == id
	})
	return nil
}

type mockAuditRepository struct {
	entries   []*models.AuditLogEntry
	createErr error
}

func (m *mockAuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) GetRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	result := m.entries
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockAuditRepository) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.AuditLogEntry, error) {
	var result []*models.AuditLogEntry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockAuditRepository) GetByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.AuditLogEntry, error) {
	var result []*models.AuditLogEntry
	for _, e := range m.entries {
		if e.UserID != nil && *e.UserID == userID {
			result = append(result, e)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ============================================================================
// Collaborators
// ============================================================================

// directTransactor runs fn without a transaction.
type directTransactor struct{}

func (directTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// allowAll authorizes everything; denyAll rejects everything.
type allowAll struct{}

func (allowAll) Authorize(context.Context, auth.Action, models.Authorizable) error { return nil }

type denyAll struct{}

func (denyAll) Authorize(context.Context, auth.Action, models.Authorizable) error {
	return apperrors.ErrForbidden
}

type mockCache struct {
	entries     map[string]*models.UtilizationMetricName
	invalidated []string
	gets        int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*models.UtilizationMetricName)}
}

func (c *mockCache) Get(ctx context.Context, key string) (*models.UtilizationMetricName, bool, error) {
	c.gets++
	m, ok := c.entries[key]
	return m, ok, nil
}

func (c *mockCache) Set(ctx context.Context, m *models.UtilizationMetricName) error {
	c.entries[m.NameKey] = m
	return nil
}

func (c *mockCache) Invalidate(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.invalidated = append(c.invalidated, keys...)
	return nil
}

// adminContext carries manual provenance for an admin caller.
func adminContext() context.Context {
	userID := uuid.New()
	ctx := auth.WithClaims(context.Background(), &auth.Claims{Roles: []string{models.RoleAdmin}})
	return models.WithManualProvenance(ctx, userID)
}
