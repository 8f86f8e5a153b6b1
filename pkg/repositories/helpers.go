package repositories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// PostgreSQL error codes the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidRegex        = "2201B"
)

// nullString converts empty strings to nil for nullable text columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns the value or "" for a nil pointer.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// pgErrorCode returns the SQLSTATE and constraint of a PostgreSQL error, if err is one.
func pgErrorCode(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

// wrapSearchError reports regular expressions PostgreSQL refuses as invalid
// criteria. Go's regexp accepts some syntax that ~* does not.
func wrapSearchError(err error, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidRegex {
		return fmt.Errorf("%w: %s", search.ErrInvalidCriteria, pgErr.Message)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// escapeLike escapes LIKE metacharacters so the value matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// whereBuilder renders search conditions into a parameterized WHERE clause.
// columns maps searchable attributes to SQL expressions.
type whereBuilder struct {
	columns map[string]string
	clauses []string
	args    []any
}

func newWhereBuilder(columns map[string]string) *whereBuilder {
	return &whereBuilder{columns: columns}
}

func (b *whereBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// add appends conditions. Values of one condition are ORed; conditions are ANDed.
func (b *whereBuilder) add(conditions []search.Condition) error {
	for _, cond := range conditions {
		col, ok := b.columns[cond.Attribute]
		if !ok {
			return fmt.Errorf("%w: attribute %q is not searchable", search.ErrInvalidCriteria, cond.Attribute)
		}
		if len(cond.Values) == 0 {
			continue
		}

		alts := make([]string, 0, len(cond.Values))
		for _, v := range cond.Values {
			switch cond.Op {
			case search.OpExact:
				alts = append(alts, fmt.Sprintf("%s = %s", col, b.arg(v)))
			case search.OpRegex:
				alts = append(alts, fmt.Sprintf("%s ~* %s", col, b.arg(v)))
			case search.OpContains:
				alts = append(alts, fmt.Sprintf("%s ILIKE '%%' || %s || '%%'", col, b.arg(escapeLike(v))))
			default:
				return fmt.Errorf("%w: unsupported operator %q", search.ErrInvalidCriteria, cond.Op)
			}
		}
		b.clauses = append(b.clauses, "("+strings.Join(alts, " OR ")+")")
	}
	return nil
}

// where returns the clause including the WHERE keyword, or "" when unfiltered.
func (b *whereBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}
