package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for record store operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeMissingField    ErrorCode = 1001
	ErrCodeInvalidDate     ErrorCode = 1002
	ErrCodeInvalidOdometer ErrorCode = 1003
	ErrCodeNotFound        ErrorCode = 1004
	ErrCodeBodyTooLarge    ErrorCode = 1005

	// Server errors (5xx equivalent)
	ErrCodeInternal      ErrorCode = 2000
	ErrCodeTransport     ErrorCode = 2001
	ErrCodeConfiguration ErrorCode = 2002
	ErrCodeUnavailable   ErrorCode = 2003
)

// StoreError represents a structured error with code and context
type StoreError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status code
func (e *StoreError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeMissingField, ErrCodeInvalidDate, ErrCodeInvalidOdometer:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeTransport:
		return http.StatusBadGateway
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewStoreError creates a new StoreError
func NewStoreError(code ErrorCode, message string, cause error) *StoreError {
	return &StoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StoreError) WithDetail(key string, value interface{}) *StoreError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInvalidArgument, message, cause)
}

func MissingField(field string) *StoreError {
	return NewStoreError(ErrCodeMissingField, fmt.Sprintf("missing required field: %s", field), nil).
		WithDetail("field", field)
}

func InvalidDate(value, reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidDate, fmt.Sprintf("invalid date '%s': %s", value, reason), nil).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

func InvalidOdometer(value, reason string) *StoreError {
	return NewStoreError(ErrCodeInvalidOdometer, fmt.Sprintf("invalid km '%s': %s", value, reason), nil).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

func NotFound(kind, id string) *StoreError {
	return NewStoreError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", kind, id), nil).
		WithDetail("kind", kind).
		WithDetail("id", id)
}

func BodyTooLarge(limit int64) *StoreError {
	return NewStoreError(ErrCodeBodyTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit), nil).
		WithDetail("limit", limit)
}

func Transport(op, path string, cause error) *StoreError {
	return NewStoreError(ErrCodeTransport, fmt.Sprintf("remote %s failed for %s", op, path), cause).
		WithDetail("operation", op).
		WithDetail("path", path)
}

func Configuration(message string) *StoreError {
	return NewStoreError(ErrCodeConfiguration, message, nil)
}

func Internal(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *StoreError {
	return NewStoreError(ErrCodeUnavailable, message, cause)
}

// IsStoreError checks if an error is a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error, ErrCodeInternal if it carries none
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StoreError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsValidation reports whether err was raised before any storage was touched.
func IsValidation(err error) bool {
	code := GetCode(err)
	return code >= 1000 && code < 2000 && code != ErrCodeNotFound
}

// HTTPStatus returns the HTTP status for any error.
func HTTPStatus(err error) int {
	var se *StoreError
	if stderrors.As(err, &se) {
		return se.HTTPStatus()
	}
	return http.StatusInternalServerError
}
