package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
)

// ErrorResponse represents a structured error in tool results.
// It is returned as a successful tool result so the calling agent sees
// the details instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can fix (bad parameters,
// unknown names). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
//
// Example:
//
//	return NewErrorResultWithDetails(
//	    "validation_failed",
//	    "validation failed: name: name has already been taken",
//	    apperrors.ValidationErrors{apperrors.DuplicateName()},
//	), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewServiceErrorResult converts a recoverable service error into a tool
// error result. It returns nil for errors the caller cannot act on; those
// should be returned as Go errors.
func NewServiceErrorResult(err error) *mcp.CallToolResult {
	if err == nil {
		return nil
	}

	if v, ok := apperrors.AsValidationErrors(err); ok {
		return NewErrorResultWithDetails("validation_failed", v.Error(), v)
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error())
	case errors.Is(err, apperrors.ErrForbidden):
		return NewErrorResult("forbidden", "You do not have permission to perform this action")
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrHasDependents):
		return NewErrorResult("conflict", err.Error())
	case errors.Is(err, search.ErrRejectedInput):
		return NewErrorResult("security_violation", err.Error())
	case errors.Is(err, search.ErrInvalidCriteria):
		return NewErrorResult("invalid_request", err.Error())
	}
	return nil
}

// IsInputError reports whether err was caused by caller input rather than a
// server failure. Input errors are logged at DEBUG, not ERROR.
func IsInputError(err error) bool {
	return NewServiceErrorResult(err) != nil
}
