package apperrors

import (
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrHasDependents = errors.New("record is still referenced")

	// ErrMissingName is reported when a metric name is absent or blank.
	ErrMissingName = errors.New("name can't be blank")
	// ErrDuplicateName is reported when another record already uses the name.
	ErrDuplicateName = errors.New("name has already been taken")
	// ErrMissingComment is reported when a comment body is blank.
	ErrMissingComment = errors.New("comment can't be blank")
)

// Field validation codes returned to API callers.
const (
	CodeMissingName    = "missing_name"
	CodeDuplicateName  = "duplicate_name"
	CodeMissingComment = "missing_comment"
)

// FieldError is a single recoverable validation failure attached to a field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`

	err error
}

// NewFieldError wraps a sentinel error as a field-level failure.
func NewFieldError(field, code string, err error) FieldError {
	return FieldError{Field: field, Code: code, Message: err.Error(), err: err}
}

// MissingName returns the field error for a blank name.
func MissingName() FieldError {
	return NewFieldError("name", CodeMissingName, ErrMissingName)
}

// DuplicateName returns the field error for a name already in use.
func DuplicateName() FieldError {
	return NewFieldError("name", CodeDuplicateName, ErrDuplicateName)
}

// ValidationErrors collects field errors for a rejected write.
// It supports errors.Is against the wrapped sentinels.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, fe := range v {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the wrapped sentinels to errors.Is.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, 0, len(v))
	for _, fe := range v {
		if fe.err != nil {
			errs = append(errs, fe.err)
		}
	}
	return errs
}

// Has reports whether any field error carries the given code.
func (v ValidationErrors) Has(code string) bool {
	for _, fe := range v {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// AsValidationErrors extracts ValidationErrors from err, if present.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
