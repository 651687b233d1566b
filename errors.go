package scancan

import (
	"errors"
	"fmt"
)

// Error codes for machine-readable error classification.
const (
	CodeConnection  = "connection_error"
	CodeTimeout     = "timeout"
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeTooLarge    = "too_large"
	CodeService     = "service_error"
	CodeUnavailable = "unavailable"
)

// Error is the error type returned by the client.
type Error struct {
	// Code is a machine-readable error code.
	Code string
	// Message is a human-readable error description.
	Message string
	// StatusCode is the HTTP status code, if the server answered.
	StatusCode int
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code, msg string, statusCode int, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewConnectionError creates an error indicating the ScanCan server could not be reached.
func NewConnectionError(msg string, cause error) *Error {
	return newError(CodeConnection, msg, 0, cause)
}

// NewTimeoutError creates an error indicating a timeout or cancellation.
func NewTimeoutError(msg string, cause error) *Error {
	return newError(CodeTimeout, msg, 0, cause)
}

// NewValidationError creates an error indicating invalid input.
func NewValidationError(msg string, statusCode int, cause error) *Error {
	return newError(CodeValidation, msg, statusCode, cause)
}

// NewNotFoundError creates an error indicating the URL to scan could not be fetched.
func NewNotFoundError(msg string) *Error {
	return newError(CodeNotFound, msg, 404, nil)
}

// NewTooLargeError creates an error indicating the payload exceeded the server's limit.
func NewTooLargeError(msg string) *Error {
	return newError(CodeTooLarge, msg, 413, nil)
}

// NewServiceError creates an error indicating ScanCan or clamd failed.
func NewServiceError(msg string, statusCode int, cause error) *Error {
	return newError(CodeService, msg, statusCode, cause)
}

// NewUnavailableError creates an error indicating clamd is not answering.
func NewUnavailableError(msg string) *Error {
	return newError(CodeUnavailable, msg, 503, nil)
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConnectionError reports whether err is or wraps a connection error.
func IsConnectionError(err error) bool { return hasCode(err, CodeConnection) }

// IsTimeoutError reports whether err is or wraps a timeout error.
func IsTimeoutError(err error) bool { return hasCode(err, CodeTimeout) }

// IsValidationError reports whether err is or wraps a validation error.
func IsValidationError(err error) bool { return hasCode(err, CodeValidation) }

// IsNotFoundError reports whether err is or wraps a not-found error.
func IsNotFoundError(err error) bool { return hasCode(err, CodeNotFound) }

// IsTooLargeError reports whether err is or wraps a payload-too-large error.
func IsTooLargeError(err error) bool { return hasCode(err, CodeTooLarge) }

// IsServiceError reports whether err is or wraps a service error.
func IsServiceError(err error) bool { return hasCode(err, CodeService) }

// IsUnavailableError reports whether err is or wraps an unavailable error.
func IsUnavailableError(err error) bool { return hasCode(err, CodeUnavailable) }
