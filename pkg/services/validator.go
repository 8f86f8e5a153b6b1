package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/config"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// MetricNameLookup finds a stored record by its normalized name key.
// It returns nil, nil when the key is free.
type MetricNameLookup interface {
	GetByNameKey(ctx context.Context, key string) (*models.UtilizationMetricName, error)
}

// MetricNameValidator enforces presence and uniqueness of metric names.
type MetricNameValidator struct {
	lookup MetricNameLookup
	policy config.MetricNamePolicy
}

// NewMetricNameValidator creates a validator using policy for name comparison.
func NewMetricNameValidator(lookup MetricNameLookup, policy config.MetricNamePolicy) *MetricNameValidator {
	return &MetricNameValidator{lookup: lookup, policy: policy}
}

// Validate checks candidate without modifying it. Validation failures are
// returned as apperrors.ValidationErrors; any other error is a lookup failure.
// A candidate with a non-nil ID may keep its own name.
func (v *MetricNameValidator) Validate(ctx context.Context, candidate *models.UtilizationMetricName) error {
	name := v.policy.Normalize(candidate.Name)
	if strings.TrimSpace(name) == "" {
		return apperrors.ValidationErrors{apperrors.MissingName()}
	}

	existing, err := v.lookup.GetByNameKey(ctx, v.policy.NameKey(name))
	if err != nil {
		return fmt.Errorf("check name uniqueness: %w", err)
	}
	if existing != nil && existing.ID != candidate.ID {
		return apperrors.ValidationErrors{apperrors.DuplicateName()}
	}

	return nil
}
