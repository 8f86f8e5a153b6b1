package models

import "github.com/google/uuid"

// Authorizable records can be checked against an actor's permissions.
type Authorizable interface {
	AuthorizationTarget() (entityType string, id uuid.UUID)
}

// Auditable records have their create/update/delete events logged.
type Auditable interface {
	AuditEntityType() string
	AuditEntityID() uuid.UUID
	// AuditFields returns the field values compared when logging updates.
	AuditFields() map[string]any
}

// Commentable records accept attached comments.
type Commentable interface {
	CommentableType() string
	CommentableID() uuid.UUID
}

// Reportable records can be rendered as report rows.
type Reportable interface {
	ReportRow(fields []string) map[string]any
}
