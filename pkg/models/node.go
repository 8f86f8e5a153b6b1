package models

import (
	"time"

	"github.com/google/uuid"
)

// Node is an inventory node that may report against one utilization metric name.
// Stored in nodes table. Only the identity and the back-reference are modeled here.
type Node struct {
	ID                      uuid.UUID  `json:"id"`
	Name                    string     `json:"name"`
	UtilizationMetricNameID *uuid.UUID `json:"utilization_metric_name_id,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}
