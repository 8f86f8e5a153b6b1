package repositories

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

func TestWhereBuilder(t *testing.T) {
	b := newWhereBuilder(metricNameColumns)

	err := b.add([]search.Condition{
		{Attribute: "name", Op: search.OpExact, Values: []string{"cpu", "mem"}},
		{Attribute: "description", Op: search.OpContains, Values: []string{"50%"}},
		{Attribute: "id", Op: search.OpRegex, Values: []string{"^0000"}},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"WHERE (name = $1 OR name = $2) AND (coalesce(description, '') ILIKE '%' || $3 || '%') AND (id::text ~* $4)",
		b.where())
	assert.Equal(t, []any{"cpu", "mem", `50\%`, "^0000"}, b.args)
}

func TestWhereBuilder_Empty(t *testing.T) {
	b := newWhereBuilder(metricNameColumns)
	require.NoError(t, b.add(nil))
	assert.Equal(t, "", b.where())
}

func TestWhereBuilder_UnknownAttribute(t *testing.T) {
	b := newWhereBuilder(metricNameColumns)
	err := b.add([]search.Condition{{Attribute: "name_key", Op: search.OpExact, Values: []string{"x"}}})
	assert.ErrorIs(t, err, search.ErrInvalidCriteria)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `cpu\_usage\%\\`, escapeLike(`cpu_usage%\`))
}

func TestWrapSearchError(t *testing.T) {
	regexErr := fmt.Errorf("query: %w", &pgconn.PgError{Code: pgInvalidRegex, Message: "invalid regular expression: quantifier operand invalid"})
	err := wrapSearchError(regexErr, "search utilization metric names")
	assert.ErrorIs(t, err, search.ErrInvalidCriteria)
	assert.Contains(t, err.Error(), "quantifier operand invalid")

	other := errors.New("connection reset")
	err = wrapSearchError(other, "search utilization metric names")
	assert.NotErrorIs(t, err, search.ErrInvalidCriteria)
	assert.ErrorIs(t, err, other)
	assert.Equal(t, "failed to search utilization metric names: connection reset", err.Error())
}
