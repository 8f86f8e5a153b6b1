package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/apperrors"
	"github.com/ekaya-inc/utilization-registry/pkg/search"
	"github.com/ekaya-inc/utilization-registry/pkg/services"
)

// ApiResponse wraps data in the format expected by API clients.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	// Errors lists field-level validation failures.
	Errors apperrors.ValidationErrors `json:"errors,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a service error to a status code and writes it.
// Validation failures become 422 with the field errors attached.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if ve, ok := apperrors.AsValidationErrors(err); ok {
		resp := ApiResponse{Success: false, Error: "validation_failed", Message: ve.Error(), Errors: ve}
		if err := WriteJSON(w, http.StatusUnprocessableEntity, resp); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	status, code := http.StatusInternalServerError, "internal_error"
	message := err.Error()
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrHasDependents), errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, search.ErrInvalidCriteria),
		errors.Is(err, search.ErrRejectedInput),
		errors.Is(err, services.ErrInvalidReport):
		status, code = http.StatusBadRequest, "invalid_request"
	default:
		logger.Error("Request failed", zap.Error(err))
		message = "Internal server error"
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
