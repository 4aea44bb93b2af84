// Package apperror provides structured error handling shared by the dedup
// engine, the storage layer and the admin API.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeConfig   = "CONFIG_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Dedup rule violations (422)
	CodeComponentPart = "COMPONENT_PART"
	CodeClusterGone   = "CLUSTER_GONE"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Run control
	CodeCancelled = "CANCELLED"
)

// AppError is the standard error type of the code base.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (record ids, sources, ...)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code for the admin API
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Entity was modified concurrently",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewComponentPart is returned when a component part is offered for clustering.
func NewComponentPart(recordID string) *AppError {
	return &AppError{
		Code:       CodeComponentPart,
		Message:    "Component parts cannot be cluster members",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"record_id": recordID},
	}
}

// NewClusterGone is returned when a cluster to join is missing or deleted.
func NewClusterGone(clusterID string) *AppError {
	return &AppError{
		Code:       CodeClusterGone,
		Message:    "Dedup record is missing or deleted",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"dedup_id": clusterID},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewDatabase wraps a storage failure.
func NewDatabase(op string, err error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database operation %s failed", op),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConfig creates a configuration error. Fatal for the affected source.
func NewConfig(message string) *AppError {
	return &AppError{
		Code:       CodeConfig,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewCancelled is returned by batch runs stopped by the operator.
func NewCancelled(processed int) *AppError {
	return &AppError{
		Code:       CodeCancelled,
		Message:    "Run cancelled",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"processed": processed},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

func hasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool { return hasCode(err, CodeConcurrentModification) }

// IsClusterGone checks if error is CodeClusterGone
func IsClusterGone(err error) bool { return hasCode(err, CodeClusterGone) }

// IsCancelled checks if error is CodeCancelled
func IsCancelled(err error) bool { return hasCode(err, CodeCancelled) }

// IsConfig checks if error is CodeConfig
func IsConfig(err error) bool { return hasCode(err, CodeConfig) }
