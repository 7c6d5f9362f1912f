package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation is returned when a request carries malformed or missing fields.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a referenced cache or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller may not act on a resource.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrSelfDiscovery is returned when a creator tries to find their own cache.
	ErrSelfDiscovery = errors.New("you cannot mark your own cache as found")
	// ErrUnauthenticated is returned for missing, invalid or expired credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTransient is returned when the store timed out or was unreachable. Safe to retry.
	ErrTransient = errors.New("service temporarily unavailable")
	// ErrInternal is returned for unexpected failures.
	ErrInternal = errors.New("internal server error")

	// ErrEmailTaken is returned on registration with an email already in use.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", ErrConflict)
	// ErrAlreadyDiscovered is returned when a user marks the same cache found twice.
	ErrAlreadyDiscovered = fmt.Errorf("%w: you already found this cache", ErrConflict)
	// ErrInvalidCredentials is returned by login on a wrong email or password.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)
)

// Validation builds a validation error with a human readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient marks err as a retryable store failure while keeping it in the chain for logs.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Order matters: the specific
// conflicts are checked before the generic one.
func MapErrorToHTTP(err error) *HTTPError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return NewHTTPError(http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, ErrInvalidCredentials):
		return NewHTTPError(http.StatusUnauthorized, "invalid email or password", "UNAUTHENTICATED")
	case errors.Is(err, ErrUnauthenticated):
		return NewHTTPError(http.StatusUnauthorized, "authentication required", "UNAUTHENTICATED")
	case errors.Is(err, ErrForbidden):
		return NewHTTPError(http.StatusForbidden, err.Error(), "FORBIDDEN")
	case errors.Is(err, ErrNotFound):
		return NewHTTPError(http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, ErrEmailTaken):
		return NewHTTPError(http.StatusConflict, "email already registered", "EMAIL_TAKEN")
	case errors.Is(err, ErrAlreadyDiscovered):
		return NewHTTPError(http.StatusConflict, "you already found this cache", "ALREADY_DISCOVERED")
	case errors.Is(err, ErrConflict):
		return NewHTTPError(http.StatusConflict, "conflict", "CONFLICT")
	case errors.Is(err, ErrSelfDiscovery):
		return NewHTTPError(http.StatusUnprocessableEntity, ErrSelfDiscovery.Error(), "SELF_DISCOVERY_FORBIDDEN")
	case errors.Is(err, ErrTransient):
		return NewHTTPError(http.StatusServiceUnavailable, ErrTransient.Error(), "TRANSIENT_STORE_ERROR")
	default:
		return NewHTTPError(http.StatusInternalServerError, ErrInternal.Error(), "INTERNAL_ERROR")
	}
}
