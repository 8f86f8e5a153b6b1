// Package search turns query-string conditions into structured criteria.
//
// The syntax follows the inventory client:
//
//	exact_<attr>=v   equality
//	<attr>=v         case-insensitive substring
//	regex_<attr>=v   case-insensitive regular expression
//	q=v              substring on the entity's default search attribute
//
// Repeating a key ORs its values. Different keys are ANDed.
package search

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// ErrInvalidCriteria wraps every parse failure.
var ErrInvalidCriteria = errors.New("invalid search criteria")

// Op is the comparison applied by a condition.
type Op string

const (
	OpExact    Op = "exact"
	OpContains Op = "contains"
	OpRegex    Op = "regex"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Reserved query keys that are not attribute conditions.
const (
	KeyQuery   = "q"
	KeyLimit   = "limit"
	KeyOffset  = "offset"
	KeyInclude = "include"
)

// Condition matches Attribute against any of Values using Op.
type Condition struct {
	Attribute string   `json:"attribute"`
	Op        Op       `json:"op"`
	Values    []string `json:"values"`
}

// Criteria is a parsed search.
type Criteria struct {
	Conditions []Condition `json:"conditions,omitempty"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	Include    []string    `json:"include,omitempty"`

	// LimitSet is true when the caller gave an explicit limit.
	LimitSet bool `json:"-"`
}

// Param is one raw name/value pair taken from the criteria.
type Param struct {
	Name  string
	Value string
}

// NewCriteria returns empty criteria with the default limit.
func NewCriteria() *Criteria {
	return &Criteria{Limit: DefaultLimit}
}

// Exact returns criteria selecting attr == value.
func Exact(attr, value string) *Criteria {
	c := NewCriteria()
	c.Conditions = []Condition{{Attribute: attr, Op: OpExact, Values: []string{value}}}
	return c
}

// Includes reports whether the relation was requested.
func (c *Criteria) Includes(relation string) bool {
	return slices.Contains(c.Include, relation)
}

// IsEmpty reports whether the criteria carry no conditions.
func (c *Criteria) IsEmpty() bool {
	return len(c.Conditions) == 0
}

// Params flattens the conditions back into query parameter pairs.
func (c *Criteria) Params() []Param {
	var params []Param
	for _, cond := range c.Conditions {
		name := cond.Key()
		for _, v := range cond.Values {
			params = append(params, Param{Name: name, Value: v})
		}
	}
	return params
}

// Key returns the query-string key that produces this condition.
func (cond Condition) Key() string {
	switch cond.Op {
	case OpExact:
		return "exact_" + cond.Attribute
	case OpRegex:
		return "regex_" + cond.Attribute
	default:
		return cond.Attribute
	}
}

// Parse builds criteria from query values, checking attributes and relations
// against md. Keys listed in ignore are skipped.
func Parse(values url.Values, md models.EntityMetadata, ignore ...string) (*Criteria, error) {
	c := NewCriteria()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		vals := values[key]
		if slices.Contains(ignore, key) {
			continue
		}

		switch key {
		case KeyLimit:
			n, err := parseNonNegative(key, vals)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				c.Limit = min(n, MaxLimit)
				c.LimitSet = true
			}
			continue
		case KeyOffset:
			n, err := parseNonNegative(key, vals)
			if err != nil {
				return nil, err
			}
			c.Offset = n
			continue
		case KeyInclude:
			include, err := ParseInclude(vals, md)
			if err != nil {
				return nil, err
			}
			c.Include = include
			continue
		case KeyQuery:
			c.Conditions = append(c.Conditions, Condition{
				Attribute: md.DefaultSearchAttribute,
				Op:        OpContains,
				Values:    vals,
			})
			continue
		}

		cond := conditionForKey(key)
		if !md.IsSearchable(cond.Attribute) {
			return nil, fmt.Errorf("%w: unknown search attribute %q", ErrInvalidCriteria, cond.Attribute)
		}
		if cond.Op == OpRegex {
			for _, v := range vals {
				if _, err := regexp.Compile(v); err != nil {
					return nil, fmt.Errorf("%w: bad regular expression for %s: %v", ErrInvalidCriteria, key, err)
				}
			}
		}
		cond.Values = vals
		c.Conditions = append(c.Conditions, cond)
	}

	return c, nil
}

// ParseInclude reads comma-separated relation names, rejecting any md does
// not declare. Duplicates are dropped.
func ParseInclude(vals []string, md models.EntityMetadata) ([]string, error) {
	var include []string
	for _, v := range vals {
		for rel := range strings.SplitSeq(v, ",") {
			rel = strings.TrimSpace(rel)
			if rel == "" {
				continue
			}
			if !md.HasRelation(rel) {
				return nil, fmt.Errorf("%w: unknown relation %q", ErrInvalidCriteria, rel)
			}
			if !slices.Contains(include, rel) {
				include = append(include, rel)
			}
		}
	}
	return include, nil
}

func conditionForKey(key string) Condition {
	if attr, ok := strings.CutPrefix(key, "exact_"); ok {
		return Condition{Attribute: attr, Op: OpExact}
	}
	if attr, ok := strings.CutPrefix(key, "regex_"); ok {
		return Condition{Attribute: attr, Op: OpRegex}
	}
	return Condition{Attribute: key, Op: OpContains}
}

func parseNonNegative(key string, vals []string) (int, error) {
	if len(vals) == 0 || vals[0] == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidCriteria, key)
	}
	return n, nil
}
