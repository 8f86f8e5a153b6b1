package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// Action is an operation checked against an Authorizable record.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionComment Action = "comment"
)

// Authorizer decides whether the caller in ctx may perform action on target.
// A nil target is used for collection-level checks such as create.
type Authorizer interface {
	Authorize(ctx context.Context, action Action, target models.Authorizable) error
}

// RolePolicy maps each action to the roles allowed to perform it.
// An action mapped to an empty slice is open to any authenticated caller.
type RolePolicy map[Action][]string

// DefaultRolePolicy is the registry's standard policy.
var DefaultRolePolicy = RolePolicy{
	ActionRead:    {},
	ActionComment: {models.RoleAdmin, models.RoleData, models.RoleUser},
	ActionCreate:  {models.RoleAdmin, models.RoleData},
	ActionUpdate:  {models.RoleAdmin, models.RoleData},
	ActionDelete:  {models.RoleAdmin, models.RoleData},
}

// RoleAuthorizer authorizes using roles from the JWT claims in context.
type RoleAuthorizer struct {
	policy RolePolicy
	logger *zap.Logger
}

// NewRoleAuthorizer creates a RoleAuthorizer. A nil policy uses DefaultRolePolicy.
func NewRoleAuthorizer(policy RolePolicy, logger *zap.Logger) *RoleAuthorizer {
	if policy == nil {
		policy = DefaultRolePolicy
	}
	return &RoleAuthorizer{policy: policy, logger: logger.Named("authorizer")}
}

// Authorize returns nil when allowed and an error wrapping apperrors.ErrForbidden otherwise.
func (a *RoleAuthorizer) Authorize(ctx context.Context, action Action, target models.Authorizable) error {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return fmt.Errorf("%w: no authenticated caller", apperrors.ErrForbidden)
	}

	roles, known := a.policy[action]
	if !known {
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrForbidden, action)
	}
	if len(roles) == 0 || claims.HasAnyRole(roles...) {
		return nil
	}

	fields := []zap.Field{
		zap.String("action", string(action)),
		zap.String("user_id", claims.Subject),
		zap.Strings("roles", claims.Roles),
	}
	if target != nil {
		entityType, id := target.AuthorizationTarget()
		fields = append(fields, zap.String("entity_type", entityType), zap.String("entity_id", id.String()))
	}
	a.logger.Info("Authorization denied", fields...)

	return fmt.Errorf("%w: %s requires one of %v", apperrors.ErrForbidden, action, roles)
}

var _ Authorizer = (*RoleAuthorizer)(nil)
