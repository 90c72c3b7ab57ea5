package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ValidationError    ErrorType = "VALIDATION_ERROR"
	InvalidStateError  ErrorType = "INVALID_STATE"
	ConfigurationError ErrorType = "CONFIGURATION_ERROR"
	NetworkError       ErrorType = "NETWORK_ERROR"
	ConflictError      ErrorType = "CONFLICT"
	NotFoundError      ErrorType = "NOT_FOUND"
	AuthError          ErrorType = "AUTHENTICATION_ERROR"
	DatabaseError      ErrorType = "DATABASE_ERROR"
	ServerError        ErrorType = "SERVER_ERROR"
)

// AppError is the structured application error carried across the service
// boundary. HTTPStatus is derived from Type unless set explicitly.
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the HTTP status for the error.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return getHTTPStatus(e.Type)
}

// New creates a new AppError.
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context.
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

func ValidationFailed(message string, detail string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InvalidState reports a mutation attempted against a trip whose status does
// not permit it. The attempted operation and current status are always named
// so the client can tell the user exactly what was rejected.
func InvalidState(operation string, currentStatus string) *AppError {
	return &AppError{
		Type:       InvalidStateError,
		Message:    fmt.Sprintf("cannot %s in current trip state", operation),
		Detail:     fmt.Sprintf("operation %q is not allowed while trip is %q", operation, currentStatus),
		HTTPStatus: http.StatusConflict,
	}
}

// InvalidRateSnapshot reports a missing or non-positive currency rate
// snapshot. The entry is stored but flagged unconvertible, never defaulted.
func InvalidRateSnapshot(currency string, detail string) *AppError {
	return &AppError{
		Type:       ConfigurationError,
		Message:    fmt.Sprintf("invalid rate snapshot for currency %s", currency),
		Detail:     detail,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// RequestTimeout reports a dispatched mutation that received no response
// within the confirmation window.
func RequestTimeout(operation string) *AppError {
	return &AppError{
		Type:       NetworkError,
		Message:    fmt.Sprintf("%s timed out waiting for confirmation", operation),
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// SequenceGap reports a broadcast event whose sequence number does not
// directly follow the last applied one. Never user-visible; triggers resync.
func SequenceGap(tripID string, lastApplied, received int64) *AppError {
	return &AppError{
		Type:       ConflictError,
		Message:    "event sequence gap detected",
		Detail:     fmt.Sprintf("trip %s: last applied %d, received %d", tripID, lastApplied, received),
		HTTPStatus: http.StatusConflict,
	}
}

func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func TripNotFound(id string) *AppError {
	return NotFound("Trip", id)
}

func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Type:       AuthError,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func NewDatabaseError(err error) *AppError {
	return &AppError{
		Type:       DatabaseError,
		Message:    "Database operation failed",
		Detail:     "Please try again later",
		HTTPStatus: http.StatusInternalServerError,
		Raw:        err,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case InvalidStateError:
		return http.StatusConflict
	case ConfigurationError:
		return http.StatusUnprocessableEntity
	case NetworkError:
		return http.StatusGatewayTimeout
	case ConflictError:
		return http.StatusConflict
	case NotFoundError:
		return http.StatusNotFound
	case AuthError:
		return http.StatusUnauthorized
	case DatabaseError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
