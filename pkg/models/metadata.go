package models

import (
	"slices"

	"github.com/jinzhu/inflection"
)

// DefaultScopeName is the named scope applied when a query selects no other ordering.
const DefaultScopeName = "def_scope"

// RelationNodes names the nodes that reference a metric name.
const RelationNodes = "nodes"

// EntityMetadata is the static query configuration of an entity type.
// The search, list and report layers read it instead of hard-coding columns.
type EntityMetadata struct {
	EntityType             string   `json:"entity_type"`
	Collection             string   `json:"collection"`
	DefaultSearchAttribute string   `json:"default_search_attribute"`
	DefaultScope           string   `json:"default_scope"`
	DefaultOrder           string   `json:"default_order"`
	SearchableAttributes   []string `json:"searchable_attributes"`
	ReportableFields       []string `json:"reportable_fields"`
	ReportableRelations    []string `json:"reportable_relations"`
	Relations              []string `json:"relations"`
}

// MetricNameMetadata describes utilization metric names.
var MetricNameMetadata = EntityMetadata{
	EntityType:             EntityTypeMetricName,
	Collection:             inflection.Plural(EntityTypeMetricName),
	DefaultSearchAttribute: "name",
	DefaultScope:           DefaultScopeName,
	DefaultOrder:           "name",
	SearchableAttributes:   []string{"id", "name", "description"},
	ReportableFields:       []string{"id", "name", "description", "created_at", "updated_at"},
	ReportableRelations:    []string{RelationNodes},
	Relations:              []string{RelationNodes},
}

// IsSearchable reports whether attr may appear in search criteria.
func (m EntityMetadata) IsSearchable(attr string) bool {
	return slices.Contains(m.SearchableAttributes, attr)
}

// IsReportable reports whether field may appear in a report.
func (m EntityMetadata) IsReportable(field string) bool {
	return slices.Contains(m.ReportableFields, field)
}

// HasRelation reports whether rel is a declared relation.
func (m EntityMetadata) HasRelation(rel string) bool {
	return slices.Contains(m.Relations, rel)
}

// Clone returns a deep copy so callers cannot mutate the shared metadata.
func (m EntityMetadata) Clone() EntityMetadata {
	m.SearchableAttributes = slices.Clone(m.SearchableAttributes)
	m.ReportableFields = slices.Clone(m.ReportableFields)
	m.ReportableRelations = slices.Clone(m.ReportableRelations)
	m.Relations = slices.Clone(m.Relations)
	return m
}
