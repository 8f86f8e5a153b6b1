package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/auth"
	"github.com/ekaya-inc/utilization-registry/pkg/config"
	"github.com/ekaya-inc/utilization-registry/pkg/metrics"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

type metricNameServiceFixture struct {
	svc      MetricNameService
	repo     *mockMetricNameRepository
	nodes    *mockNodeRepository
	comments *mockCommentRepository
	audit    *mockAuditRepository
	cache    *mockCache
	metrics  *metrics.Metrics
}

func newMetricNameServiceFixture(t *testing.T, policy config.MetricNamePolicy, authz auth.Authorizer) *metricNameServiceFixture {
	t.Helper()
	if policy.DeletePolicy == "" {
		policy.DeletePolicy = config.DeletePolicyRestrict
	}
	f := &metricNameServiceFixture{
		repo:     newMockMetricNameRepository(),
		nodes:    newMockNodeRepository(),
		comments: &mockCommentRepository{},
		audit:    &mockAuditRepository{},
		cache:    newMockCache(),
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewMetricNameService(MetricNameServiceDeps{
		Repo:        f.repo,
		NodeRepo:    f.nodes,
		CommentRepo: f.comments,
		Audit:       NewAuditService(f.audit, zap.NewNop()),
		Authorizer:  authz,
		Cache:       f.cache,
		Tx:          directTransactor{},
		Metrics:     f.metrics,
		Policy:      policy,
	}, zap.NewNop())
	return f
}

func TestMetricNameService_CreateScenario(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	created, err := f.svc.Create(ctx, "cpu_usage", "CPU utilization")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "cpu_usage", created.Name)
	require.NotNil(t, created.CreatedBy)

	_, err = f.svc.Create(ctx, "cpu_usage", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateName)

	_, err = f.svc.Create(ctx, "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMissingName)

	found, err := f.svc.GetByName(ctx, "cpu_usage")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WritesTotal.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ValidationFailuresTotal.WithLabelValues(apperrors.CodeDuplicateName)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ValidationFailuresTotal.WithLabelValues(apperrors.CodeMissingName)))

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionCreate, f.audit.entries[0].Action)
	assert.Equal(t, created.ID, f.audit.entries[0].EntityID)
}

func TestMetricNameService_CreateTrimsName(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})

	created, err := f.svc.Create(adminContext(), "  disk_io  ", "")
	require.NoError(t, err)
	assert.Equal(t, "disk_io", created.Name)
}

func TestMetricNameService_CreateCaseInsensitive(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{CaseInsensitive: true}, allowAll{})
	ctx := adminContext()

	_, err := f.svc.Create(ctx, "cpu_usage", "")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "CPU_USAGE", "")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateName)

	found, err := f.svc.GetByName(ctx, "Cpu_Usage")
	require.NoError(t, err)
	assert.Equal(t, "cpu_usage", found.Name)
}

func TestMetricNameService_CreateForbidden(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, denyAll{})

	_, err := f.svc.Create(adminContext(), "cpu_usage", "")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Empty(t, f.repo.records)
}

func TestMetricNameService_CreateFailsWhenAuditFails(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	f.audit.createErr = errors.New("audit table missing")

	_, err := f.svc.Create(adminContext(), "cpu_usage", "")
	require.Error(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.WritesTotal.WithLabelValues("create")))
}

func TestMetricNameService_Update(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	cpu, err := f.svc.Create(ctx, "cpu_usage", "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "mem_usage", "")
	require.NoError(t, err)

	t.Run("rename", func(t *testing.T) {
		name := "cpu_utilization"
		updated, err := f.svc.Update(ctx, cpu.ID, models.MetricNameChanges{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "cpu_utilization", updated.Name)
		assert.Contains(t, f.cache.invalidated, "cpu_usage")
		assert.Contains(t, f.cache.invalidated, "cpu_utilization")

		last := f.audit.entries[len(f.audit.entries)-1]
		assert.Equal(t, models.AuditActionUpdate, last.Action)
		assert.Equal(t, models.FieldChange{Old: "cpu_usage", New: "cpu_utilization"}, last.ChangedFields["name"])
	})

	t.Run("rename onto taken name", func(t *testing.T) {
		name := "mem_usage"
		_, err := f.svc.Update(ctx, cpu.ID, models.MetricNameChanges{Name: &name})
		assert.ErrorIs(t, err, apperrors.ErrDuplicateName)
	})

	t.Run("blank name", func(t *testing.T) {
		name := "  "
		_, err := f.svc.Update(ctx, cpu.ID, models.MetricNameChanges{Name: &name})
		assert.ErrorIs(t, err, apperrors.ErrMissingName)
	})

	t.Run("no change skips write", func(t *testing.T) {
		before := f.repo.updateCalls
		name := "cpu_utilization"
		_, err := f.svc.Update(ctx, cpu.ID, models.MetricNameChanges{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, before, f.repo.updateCalls)
	})

	t.Run("missing record", func(t *testing.T) {
		desc := "x"
		_, err := f.svc.Update(ctx, uuid.New(), models.MetricNameChanges{Description: &desc})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestMetricNameService_DeletePolicies(t *testing.T) {
	tests := []struct {
		policy        string
		wantErr       error
		wantRemaining int
		wantDetached  bool
	}{
		{config.DeletePolicyRestrict, apperrors.ErrHasDependents, 2, false},
		{config.DeletePolicyNullify, nil, 2, true},
		{config.DeletePolicyCascade, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			f := newMetricNameServiceFixture(t, config.MetricNamePolicy{DeletePolicy: tt.policy}, allowAll{})
			ctx := adminContext()

			m, err := f.svc.Create(ctx, "cpu_usage", "")
			require.NoError(t, err)
			f.nodes.add("web-1", &m.ID)
			f.nodes.add("web-2", &m.ID)

			err = f.svc.Delete(ctx, m.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, getErr := f.repo.GetByID(ctx, m.ID)
				assert.NoError(t, getErr)
			} else {
				require.NoError(t, err)
				_, getErr := f.repo.GetByID(ctx, m.ID)
				assert.ErrorIs(t, getErr, apperrors.ErrNotFound)
				assert.Equal(t, models.AuditActionDelete, f.audit.entries[len(f.audit.entries)-1].Action)
			}

			assert.Len(t, f.nodes.nodes, tt.wantRemaining)
			if tt.wantDetached {
				for _, n := range f.nodes.nodes {
					assert.Nil(t, n.UtilizationMetricNameID)
				}
			}
		})
	}
}

func TestMetricNameService_DeleteWithoutNodesRemovesComments(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	m, err := f.svc.Create(ctx, "cpu_usage", "")
	require.NoError(t, err)
	require.NoError(t, f.comments.Create(ctx, &models.Comment{
		CommentableType: m.CommentableType(),
		CommentableID:   m.ID,
		Comment:         "deprecated",
	}))

	require.NoError(t, f.svc.Delete(ctx, m.ID))
	assert.Empty(t, f.comments.comments)
	assert.Contains(t, f.cache.invalidated, "cpu_usage")
}

func TestMetricNameService_GetByNameUsesCache(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	_, err := f.svc.Create(ctx, "cpu_usage", "")
	require.NoError(t, err)

	_, err = f.svc.GetByName(ctx, "cpu_usage")
	require.NoError(t, err)
	require.Contains(t, f.cache.entries, "cpu_usage")

	_, err = f.svc.GetByName(ctx, "cpu_usage")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookupsTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookupsTotal.WithLabelValues("hit")))

	_, err = f.svc.GetByName(ctx, "unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.GetByName(ctx, "   ")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMetricNameService_ListAndInclude(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	cpu, err := f.svc.Create(ctx, "cpu_usage", "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "mem_usage", "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "disk_io", "")
	require.NoError(t, err)
	f.nodes.add("web-1", &cpu.ID)

	criteria := search.NewCriteria()
	criteria.Conditions = []search.Condition{{Attribute: "name", Op: search.OpContains, Values: []string{"usage"}}}
	criteria.Include = []string{"nodes"}

	list, err := f.svc.List(ctx, criteria)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.MetricNames, 2)
	assert.Equal(t, "cpu_usage", list.MetricNames[0].Name)
	assert.Len(t, list.MetricNames[0].Nodes, 1)
	assert.Empty(t, list.MetricNames[1].Nodes)

	empty, err := f.svc.List(ctx, search.Exact("name", "nothing"))
	require.NoError(t, err)
	assert.NotNil(t, empty.MetricNames)
	assert.Equal(t, 0, empty.Total)
}

func TestMetricNameService_GetAndNodes(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	m, err := f.svc.Create(ctx, "cpu_usage", "")
	require.NoError(t, err)

	nodes, err := f.svc.Nodes(ctx, m.ID)
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)

	f.nodes.add("web-1", &m.ID)
	got, err := f.svc.Get(ctx, m.ID, true)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)

	_, err = f.svc.Get(ctx, uuid.New(), false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMetricNameService_UpdateWhere(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	for _, name := range []string{"cpu_usage", "cpu_steal", "mem_usage"} {
		_, err := f.svc.Create(ctx, name, "")
		require.NoError(t, err)
	}

	criteria := search.NewCriteria()
	criteria.Conditions = []search.Condition{{Attribute: "name", Op: search.OpContains, Values: []string{"cpu"}}}

	desc := "processor"
	result, err := f.svc.UpdateWhere(ctx, criteria, models.MetricNameChanges{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Failures)
	assert.Equal(t, "2 out of 2 update(s) succeeded", result.Summary())

	// Renaming every match to the same name leaves exactly one success.
	name := "cpu"
	result, err = f.svc.UpdateWhere(ctx, criteria, models.MetricNameChanges{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Failures, 1)
	assert.True(t, result.Failures[0].Fields.Has(apperrors.CodeDuplicateName))
}

func TestMetricNameService_UpdateWhereVisitsEveryMatch(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	total := search.DefaultLimit + 5
	for i := range total {
		_, err := f.svc.Create(ctx, fmt.Sprintf("cpu_%03d", i), "")
		require.NoError(t, err)
	}

	criteria := search.NewCriteria()
	criteria.Conditions = []search.Condition{{Attribute: "name", Op: search.OpContains, Values: []string{"cpu"}}}

	desc := "processor"
	result, err := f.svc.UpdateWhere(ctx, criteria, models.MetricNameChanges{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, total, result.Matched)
	assert.Equal(t, total, result.Succeeded)
	assert.Equal(t, fmt.Sprintf("%d out of %d update(s) succeeded", total, total), result.Summary())

	last, err := f.svc.GetByName(ctx, fmt.Sprintf("cpu_%03d", total-1))
	require.NoError(t, err)
	assert.Equal(t, "processor", last.Description)
}

func TestMetricNameService_UpdateWhereHonorsExplicitLimit(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	ctx := adminContext()

	for _, name := range []string{"cpu_a", "cpu_b", "cpu_c"} {
		_, err := f.svc.Create(ctx, name, "")
		require.NoError(t, err)
	}

	criteria, err := search.Parse(url.Values{"name": {"cpu"}, "limit": {"2"}}, models.MetricNameMetadata)
	require.NoError(t, err)

	desc := "processor"
	result, err := f.svc.UpdateWhere(ctx, criteria, models.MetricNameChanges{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 2, result.Succeeded)
}

func TestMetricNameService_UpdateWhereRequiresConditions(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})
	desc := "x"

	_, err := f.svc.UpdateWhere(adminContext(), search.NewCriteria(), models.MetricNameChanges{Description: &desc})
	assert.ErrorIs(t, err, search.ErrInvalidCriteria)

	_, err = f.svc.UpdateWhere(adminContext(), search.Exact("name", "x"), models.MetricNameChanges{})
	assert.ErrorIs(t, err, search.ErrInvalidCriteria)
}

func TestMetricNameService_Metadata(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, allowAll{})

	md := f.svc.Metadata()
	assert.Equal(t, "name", md.DefaultSearchAttribute)

	md.SearchableAttributes[0] = "mutated"
	assert.Equal(t, "id", models.MetricNameMetadata.SearchableAttributes[0])
}

func TestMetricNameService_ReadRequiresAuthorization(t *testing.T) {
	f := newMetricNameServiceFixture(t, config.MetricNamePolicy{}, denyAll{})
	ctx := context.Background()

	_, err := f.svc.List(ctx, search.NewCriteria())
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.GetByName(ctx, "cpu_usage")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}
