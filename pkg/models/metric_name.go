package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityTypeMetricName identifies utilization metric names in audit, comment
// and authorization records.
const EntityTypeMetricName = "utilization_metric_name"

// UtilizationMetricName is a named category of utilization measurement
// (e.g. "cpu_usage") that nodes report against.
// Stored in utilization_metric_names table.
type UtilizationMetricName struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy   *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// NameKey is the normalized comparison key backing the unique index.
	NameKey string `json:"-"`

	// Nodes is populated only when the caller asks to include the relation.
	Nodes []*Node `json:"nodes,omitempty"`
}

// MetricNameChanges holds the mutable fields of an update. Nil means unchanged.
type MetricNameChanges struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// IsEmpty reports whether the changes touch no field.
func (c MetricNameChanges) IsEmpty() bool {
	return c.Name == nil && c.Description == nil
}

// AuthorizationTarget implements Authorizable.
func (m *UtilizationMetricName) AuthorizationTarget() (string, uuid.UUID) {
	return EntityTypeMetricName, m.ID
}

// AuditEntityType implements Auditable.
func (m *UtilizationMetricName) AuditEntityType() string { return EntityTypeMetricName }

// AuditEntityID implements Auditable.
func (m *UtilizationMetricName) AuditEntityID() uuid.UUID { return m.ID }

// AuditFields implements Auditable.
func (m *UtilizationMetricName) AuditFields() map[string]any {
	return map[string]any{
		"name":        m.Name,
		"description": m.Description,
	}
}

// CommentableType implements Commentable.
func (m *UtilizationMetricName) CommentableType() string { return EntityTypeMetricName }

// CommentableID implements Commentable.
func (m *UtilizationMetricName) CommentableID() uuid.UUID { return m.ID }

// ReportRow implements Reportable. Unknown fields are skipped.
func (m *UtilizationMetricName) ReportRow(fields []string) map[string]any {
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		switch f {
		case "id":
			row[f] = m.ID.String()
		case "name":
			row[f] = m.Name
		case "description":
			row[f] = m.Description
		case "created_at":
			row[f] = m.CreatedAt.UTC().Format(time.RFC3339)
		case "updated_at":
			row[f] = m.UpdatedAt.UTC().Format(time.RFC3339)
		}
	}
	return row
}

var (
	_ Authorizable = (*UtilizationMetricName)(nil)
	_ Auditable    = (*UtilizationMetricName)(nil)
	_ Commentable  = (*UtilizationMetricName)(nil)
	_ Reportable   = (*UtilizationMetricName)(nil)
)
