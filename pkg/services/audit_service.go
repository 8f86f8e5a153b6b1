package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/models"
	"github.com/ekaya-inc/utilization-registry/pkg/repositories"
)

// AuditService records create, update and delete events of Auditable records.
// It automatically extracts provenance (source, user) from context.
type AuditService interface {
	// LogCreate logs the creation of an entity.
	LogCreate(ctx context.Context, entity models.Auditable) error

	// LogUpdate logs an update to an entity with the changed fields.
	LogUpdate(ctx context.Context, entity models.Auditable, changes map[string]models.FieldChange) error

	// LogDelete logs the deletion of an entity.
	LogDelete(ctx context.Context, entity models.Auditable) error

	// GetRecent returns the newest audit log entries.
	GetRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error)

	// GetByEntity returns audit log entries for a specific entity.
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.AuditLogEntry, error)
}

type auditService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repositories.AuditRepository, logger *zap.Logger) AuditService {
	return &auditService{
		repo:   repo,
		logger: logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) LogCreate(ctx context.Context, entity models.Auditable) error {
	return s.log(ctx, entity, models.AuditActionCreate, nil)
}

func (s *auditService) LogUpdate(ctx context.Context, entity models.Auditable, changes map[string]models.FieldChange) error {
	return s.log(ctx, entity, models.AuditActionUpdate, changes)
}

func (s *auditService) LogDelete(ctx context.Context, entity models.Auditable) error {
	return s.log(ctx, entity, models.AuditActionDelete, nil)
}

func (s *auditService) log(ctx context.Context, entity models.Auditable, action string, changes map[string]models.FieldChange) error {
	prov, ok := models.GetProvenance(ctx)
	if !ok {
		// Audit logging shouldn't break the main operation
		s.logger.Warn("No provenance context for audit log",
			zap.String("entity_type", entity.AuditEntityType()),
			zap.String("entity_id", entity.AuditEntityID().String()),
			zap.String("action", action))
		return nil
	}

	entry := &models.AuditLogEntry{
		EntityType:    entity.AuditEntityType(),
		EntityID:      entity.AuditEntityID(),
		Action:        action,
		Source:        prov.Source.String(),
		UserID:        prov.ActorID(),
		ChangedFields: changes,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to create audit log entry",
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID.String()),
			zap.String("action", action),
			zap.Error(err))
		return fmt.Errorf("create audit log entry: %w", err)
	}

	return nil
}

func (s *auditService) GetRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100 // Default limit
	}

	entries, err := s.repo.GetRecent(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to get recent audit log entries", zap.Error(err))
		return nil, fmt.Errorf("get recent audit log entries: %w", err)
	}

	return entries, nil
}

func (s *auditService) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.AuditLogEntry, error) {
	entries, err := s.repo.GetByEntity(ctx, entityType, entityID)
	if err != nil {
		s.logger.Error("Failed to get audit log entries by entity",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("get audit log entries by entity: %w", err)
	}

	return entries, nil
}
