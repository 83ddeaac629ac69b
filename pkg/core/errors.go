package core

import (
	"errors"
	"fmt"
)

// Error represents a typed failure surfaced by the voice agent runtime.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrUnavailable    ErrorType = "unavailable_error"
	ErrAPI            ErrorType = "api_error"
	ErrStorage        ErrorType = "storage_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewPermissionError creates a permission/device error. Microphone denial and
// missing capture hardware surface as this type.
func NewPermissionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewUnavailableError creates a transient "service unavailable" error.
func NewUnavailableError(message string, cause error) *Error {
	return &Error{
		Type:    ErrUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(op string, cause error) *Error {
	return &Error{
		Type:    ErrStorage,
		Message: fmt.Sprintf("%s: %v", op, cause),
		Cause:   cause,
	}
}

// IsRetryable returns true if the error is worth retrying.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrUnavailable
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsUnavailable reports whether err (anywhere in its chain) is a transient
// service-unavailable error.
func IsUnavailable(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type == ErrUnavailable
	}
	return false
}

// IsPermission reports whether err is a permission/device error.
func IsPermission(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type == ErrPermission
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type == ErrNotFound
	}
	return false
}
