package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
)

// AuditLogEntry represents a single entry in the audit log.
// Stored in audit_log table.
type AuditLogEntry struct {
	ID         uuid.UUID `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	Action     string    `json:"action"` // 'create', 'update', 'delete'

	// Who/how
	Source string     `json:"source"`            // 'manual', 'mcp', 'system'
	UserID *uuid.UUID `json:"user_id,omitempty"` // nil for system operations

	// What changed (for updates)
	ChangedFields map[string]FieldChange `json:"changed_fields,omitempty"` // {"field": {"old": ..., "new": ...}}

	CreatedAt time.Time `json:"created_at"`
}

// FieldChange represents the old and new values for a changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// DiffFields returns the fields whose values differ between before and after.
func DiffFields(before, after map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for k, newVal := range after {
		oldVal, ok := before[k]
		if !ok || oldVal != newVal {
			changes[k] = FieldChange{Old: oldVal, New: newVal}
		}
	}
	return changes
}
