package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/cache"
	"github.com/ekaya-inc/utilization-registry/pkg/config"
	"github.com/ekaya-inc/utilization-registry/pkg/database"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
)

// NameKeyRekeyer brings stored name keys in line with the current naming
// policy. Keys are written under the policy active at write time, so turning
// on case_insensitive (or changing the whitespace rule) on a populated
// registry leaves stale keys until this runs.
type NameKeyRekeyer struct {
	repo   repositories.MetricNameRepository
	tx     database.Transactor
	cache  cache.MetricNameCache
	policy config.MetricNamePolicy
	logger *zap.Logger
}

// NewNameKeyRekeyer creates a NameKeyRekeyer. c may be nil.
func NewNameKeyRekeyer(repo repositories.MetricNameRepository, tx database.Transactor, c cache.MetricNameCache, policy config.MetricNamePolicy, logger *zap.Logger) *NameKeyRekeyer {
	if c == nil {
		c = cache.NoopMetricNameCache{}
	}
	return &NameKeyRekeyer{
		repo:   repo,
		tx:     tx,
		cache:  c,
		policy: policy,
		logger: logger.Named("name-key-rekeyer"),
	}
}

// Run recomputes every stored key and returns how many changed. When the
// policy would make two stored names collide, nothing is written and the
// error wraps apperrors.ErrConflict naming the colliding records.
func (r *NameKeyRekeyer) Run(ctx context.Context) (int, error) {
	var stale []string
	changed := make(map[uuid.UUID]string)

	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		names, err := r.repo.ListForRekey(ctx)
		if err != nil {
			return err
		}

		byKey := make(map[string][]string, len(names))
		for _, m := range names {
			key := r.policy.NameKey(m.Name)
			byKey[key] = append(byKey[key], m.Name)
			if key != m.NameKey {
				changed[m.ID] = key
				stale = append(stale, m.NameKey, key)
			}
		}

		var collisions []string
		for key, group := range byKey {
			if len(group) > 1 {
				collisions = append(collisions, fmt.Sprintf("%q (%s)", key, strings.Join(group, ", ")))
			}
		}
		if len(collisions) > 0 {
			slices.Sort(collisions)
			return fmt.Errorf("%w: naming policy makes stored names collide: %s",
				apperrors.ErrConflict, strings.Join(collisions, "; "))
		}

		return r.repo.SetNameKeys(ctx, changed)
	})
	if err != nil {
		return 0, err
	}

	if len(changed) > 0 {
		if err := r.cache.Invalidate(ctx, stale...); err != nil {
			r.logger.Warn("Metric name cache invalidation failed", zap.Error(err))
		}
		r.logger.Info("Rekeyed utilization metric names", zap.Int("changed", len(changed)))
	}

	return len(changed), nil
}
