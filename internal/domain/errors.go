package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AppError represents a domain-specific error with structured information and enhanced context
type AppError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Cause      error     `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(ctx context.Context, operation string) *AppError {
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		if id, ok := requestID.(string); ok {
			e.RequestID = id
		}
	}
	e.Operation = operation
	return e
}

type contextKey string

// RequestIDKey is the context key the API stores the request id under
const RequestIDKey contextKey = "request_id"

// Error codes for different error categories
const (
	ErrInvalidInput     = "INVALID_INPUT"     // 400 Bad Request
	ErrValidationFailed = "VALIDATION_FAILED" // 422 Unprocessable Entity
	ErrNotFound         = "NOT_FOUND"         // 404 Not Found
	ErrInternal         = "INTERNAL_ERROR"    // 500 Internal Server Error
	ErrTimeout          = "TIMEOUT"           // 408 Request Timeout
	ErrStorage          = "STORAGE_ERROR"     // 500 Internal Server Error
	ErrTooLarge         = "PAYLOAD_TOO_LARGE" // 413 Request Entity Too Large

	// Deployment error codes
	ErrIntegrityMismatch  = "INTEGRITY_MISMATCH"  // 409 manifest and disk diverge
	ErrConflictDetected   = "CONFLICT_DETECTED"   // 409 packages share target paths
	ErrPrivilegeDenied    = "PRIVILEGE_DENIED"    // 403 link creation needs elevation
	ErrSourceMissing      = "SOURCE_MISSING"      // per-file, counted only
	ErrIOFailure          = "IO_FAILURE"          // 500 filesystem failure
	ErrTargetUnavailable  = "TARGET_UNAVAILABLE"  // 412 target directory unset or missing
	ErrManualUnsupported  = "MANUAL_UNSUPPORTED"  // 422 manual priority in copy mode
	ErrBisectInactive     = "BISECT_INACTIVE"     // 409 no such or finished bisection session
	ErrOperationCancelled = "OPERATION_CANCELLED" // 409 user declined a decision
	ErrRateLimit          = "RATE_LIMIT_EXCEEDED" // 429 Too Many Requests
)

// NewAppError creates a new AppError with the specified parameters
func NewAppError(code, message string, statusCode int, details any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
		Timestamp:  time.Now(),
	}
}

// NewAppErrorWithCause creates a new AppError with underlying cause
func NewAppErrorWithCause(code, message string, statusCode int, cause error, details any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// PackageNotFound is returned when a package name is not known to the library
func PackageNotFound(name string) *AppError {
	return NewAppError(ErrNotFound, fmt.Sprintf("package %q not found", name), 404, map[string]any{"package": name})
}

// HasCode reports whether err (or anything it wraps) is an AppError with the given code
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	return HasCode(err, ErrTimeout)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return HasCode(err, ErrValidationFailed)
}

// IsTargetUnavailable checks if the error reports a missing target directory
func IsTargetUnavailable(err error) bool {
	return HasCode(err, ErrTargetUnavailable)
}
