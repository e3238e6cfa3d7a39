package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Domain sentinels returned (wrapped) by services. Handlers translate them with FromError.
var (
	ErrRecordNotFound   = stderrors.New("record not found")
	ErrPermissionDenied = stderrors.New("permission denied")
	ErrDuplicate        = stderrors.New("duplicate record")
	ErrInvalidInput     = stderrors.New("invalid input")
	ErrUnavailable      = stderrors.New("dependency unavailable")
)

// APIError represents a standardized API error response
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Details string    `json:"details,omitempty"`
	Status  int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message, Status: code.StatusCode()}
}

// NotFound creates a NOT_FOUND error
func NotFound(resource string) *APIError {
	return newAPIError(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// Unauthorized creates an UNAUTHORIZED error
func Unauthorized(message string) *APIError {
	return newAPIError(ErrUnauthorized, message)
}

// Forbidden creates a FORBIDDEN error
func Forbidden(message string) *APIError {
	return newAPIError(ErrForbidden, message)
}

// Conflict creates a CONFLICT error
func Conflict(resource string) *APIError {
	return newAPIError(ErrConflict, fmt.Sprintf("%s already exists or is in an invalid state", resource))
}

// ValidationError creates a VALIDATION_ERROR
func ValidationError(field, message string) *APIError {
	e := newAPIError(ErrValidation, message)
	e.Field = field
	return e
}

// BadRequest creates a BAD_REQUEST error
func BadRequest(message string) *APIError {
	return newAPIError(ErrBadRequest, message)
}

// InternalError creates an INTERNAL_ERROR
func InternalError(message string) *APIError {
	return newAPIError(ErrInternalError, message)
}

// RateLimited creates a RATE_LIMITED error
func RateLimited(message string) *APIError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return newAPIError(ErrRateLimited, message)
}

// ServiceUnavailable creates a SERVICE_UNAVAILABLE error
func ServiceUnavailable(service string) *APIError {
	return newAPIError(ErrServiceUnavail, fmt.Sprintf("%s is temporarily unavailable", service))
}

// WithDetails adds additional details to an error
func (e *APIError) WithDetails(details string) *APIError {
	e.Details = details
	return e
}

// FromError maps a service error onto an APIError. resource names the entity for
// not-found messages. Unknown errors become INTERNAL_ERROR without leaking details.
func FromError(err error, resource string) *APIError {
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &apiErr):
		return apiErr
	case stderrors.Is(err, ErrRecordNotFound):
		return NotFound(resource)
	case stderrors.Is(err, ErrPermissionDenied):
		return Forbidden(err.Error())
	case stderrors.Is(err, ErrDuplicate):
		return Conflict(resource)
	case stderrors.Is(err, ErrInvalidInput):
		return BadRequest(err.Error())
	case stderrors.Is(err, ErrUnavailable):
		return ServiceUnavailable(resource)
	default:
		return InternalError(http.StatusText(http.StatusInternalServerError))
	}
}
