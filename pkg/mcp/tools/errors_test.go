package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	_ = json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	return errResp
}

func TestNewErrorResult(t *testing.T) {
	errResp := decodeErrorResult(t, NewErrorResult("test_error", "this is a test error"))

	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "test_error", errResp.Code)
	assert.Equal(t, "this is a test error", errResp.Message)
	assert.Nil(t, errResp.Details, "details should be nil when not provided")
}

func TestNewErrorResultWithDetails(t *testing.T) {
	details := map[string]any{"field": "name", "count": 2}

	errResp := decodeErrorResult(t, NewErrorResultWithDetails("validation_failed", "bad name", details))

	detailsMap, ok := errResp.Details.(map[string]any)
	require.True(t, ok, "details should be a map")
	assert.Equal(t, "name", detailsMap["field"])
	assert.Equal(t, float64(2), detailsMap["count"]) // JSON numbers are float64
}

func TestErrorResponse_OmitsEmptyDetails(t *testing.T) {
	text := getTextContent(NewErrorResult("not_found", "missing"))
	assert.NotContains(t, text, "details")
}

func TestNewServiceErrorResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"missing name", apperrors.ValidationErrors{apperrors.MissingName()}, "validation_failed"},
		{"duplicate name", fmt.Errorf("create: %w", apperrors.ValidationErrors{apperrors.DuplicateName()}), "validation_failed"},
		{"not found", fmt.Errorf("metric name: %w", apperrors.ErrNotFound), "not_found"},
		{"forbidden", apperrors.ErrForbidden, "forbidden"},
		{"has dependents", fmt.Errorf("%w: 2 node(s)", apperrors.ErrHasDependents), "conflict"},
		{"rejected input", fmt.Errorf("%w: q", search.ErrRejectedInput), "security_violation"},
		{"invalid criteria", fmt.Errorf("%w: limit", search.ErrInvalidCriteria), "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errResp := decodeErrorResult(t, NewServiceErrorResult(tt.err))
			assert.Equal(t, tt.code, errResp.Code)
			assert.True(t, IsInputError(tt.err))
		})
	}
}

func TestNewServiceErrorResult_ValidationDetails(t *testing.T) {
	errResp := decodeErrorResult(t, NewServiceErrorResult(apperrors.ValidationErrors{apperrors.DuplicateName()}))

	fields, ok := errResp.Details.([]any)
	require.True(t, ok)
	require.Len(t, fields, 1)
	field := fields[0].(map[string]any)
	assert.Equal(t, "name", field["field"])
	assert.Equal(t, apperrors.CodeDuplicateName, field["code"])
}

func TestNewServiceErrorResult_SystemErrors(t *testing.T) {
	assert.Nil(t, NewServiceErrorResult(nil))
	assert.Nil(t, NewServiceErrorResult(errors.New("connection refused")))
	assert.False(t, IsInputError(errors.New("connection refused")))
}
