package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents the category of an error in the client envelope.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypePermission     ErrorType = "permission_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeAPIError       ErrorType = "api_error"
	ErrorTypeOverloaded     ErrorType = "overloaded_error"
)

// Error codes distinguishing proxy-detected failure conditions within an
// error type.
const (
	ErrorCodeUnknownModel    = "unknown_model"
	ErrorCodeTranslation     = "translation_error"
	ErrorCodeStreamExhausted = "stream_exhausted"
	ErrorCodeBackendDown     = "backend_unavailable"
	ErrorCodeBackendRejected = "backend_rejected"
)

// Error is the structured error carried inside the client error envelope.
// Code is a proxy extension narrowing the error type; clients that only
// understand the base protocol can ignore it.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the top-level error envelope: {"type":"error","error":{...}}.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error *Error `json:"error"`
}

// NewErrorResponse wraps an Error in the top-level envelope.
func NewErrorResponse(err *Error) *ErrorResponse {
	return &ErrorResponse{Type: "error", Error: err}
}

// NewInvalidRequestError creates an Error for malformed request input.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidRequest,
		Message: message,
	}
}

// NewUnknownModelError creates an Error for a model identifier that resolves
// neither through the alias table nor through size-class inference.
func NewUnknownModelError(model string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidRequest,
		Code:    ErrorCodeUnknownModel,
		Message: fmt.Sprintf("model %q could not be resolved to a backend model", model),
	}
}

// NewTranslationError creates an Error for an envelope that violates a
// structural precondition of request translation.
func NewTranslationError(message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidRequest,
		Code:    ErrorCodeTranslation,
		Message: message,
	}
}

// NewStreamExhaustedError creates an Error for a stream whose retry budget
// ran out before the backend produced a terminal chunk.
func NewStreamExhaustedError(retries int, cause string) *Error {
	return &Error{
		Type:    ErrorTypeAPIError,
		Code:    ErrorCodeStreamExhausted,
		Message: fmt.Sprintf("stream failed after %d retries: %s", retries, cause),
	}
}

// NewBackendUnavailableError creates an Error for connectivity or upstream
// failures reaching the backend provider.
func NewBackendUnavailableError(message string) *Error {
	return &Error{
		Type:    ErrorTypeAPIError,
		Code:    ErrorCodeBackendDown,
		Message: message,
	}
}

// NewBackendRejectedError creates an Error for a backend that answered but
// refused the request outright (bad credentials, revoked key). Unlike
// backend_unavailable this never heals on retry.
func NewBackendRejectedError(message string) *Error {
	return &Error{
		Type:    ErrorTypeAPIError,
		Code:    ErrorCodeBackendRejected,
		Message: message,
	}
}

// NewOverloadedError creates an Error for upstream rate limiting or
// saturation.
func NewOverloadedError(message string) *Error {
	return &Error{
		Type:    ErrorTypeOverloaded,
		Message: message,
	}
}

// NewAuthenticationError creates an Error for failed client authentication.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrorTypeAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates an Error for unknown routes or resources.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewAPIError creates a generic internal Error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrorTypeAPIError,
		Message: message,
	}
}

// IsRetryable reports whether a failed backend call is worth retrying.
// Overload and connectivity failures are transient; validation errors,
// unknown models, and exhausted streams never heal on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case ErrorTypeOverloaded, ErrorTypeRateLimit:
			return true
		case ErrorTypeAPIError:
			// backend_unavailable and untyped internal errors are
			// transient; an exhausted stream is already the result
			// of retrying, and a rejected credential stays rejected.
			return apiErr.Code != ErrorCodeStreamExhausted &&
				apiErr.Code != ErrorCodeBackendRejected
		default:
			return false
		}
	}

	// Raw transport errors that never went through an error mapper are
	// connection-level and transient.
	return true
}
