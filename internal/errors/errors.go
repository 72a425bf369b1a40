// Package errors provides the service error taxonomy shared by every module.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// ErrorCode identifies a class of service error.
type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeRateLimited         ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	CodeUpstreamAuthFailure ErrorCode = "UPSTREAM_AUTH_FAILURE"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error that knows how it is rendered over HTTP.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// InvalidInput reports a malformed request payload.
func InvalidInput(message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message, nil)
}

// Unauthorized reports a missing or rejected bearer token.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden reports an authenticated caller acting on someone else's record.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// NotFound reports a resource lookup miss.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("id", id)
}

// Conflict reports a lost compare-and-set or a violated business rule.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// StoreUnavailable reports that the persistence engine could not be reached.
func StoreUnavailable(err error) *ServiceError {
	return newError(CodeStoreUnavailable, http.StatusServiceUnavailable, "storage unavailable", err)
}

// UpstreamAuthFailure reports that the identity provider could not be reached
// or answered with an unexpected shape.
func UpstreamAuthFailure(err error) *ServiceError {
	return newError(CodeUpstreamAuthFailure, http.StatusBadGateway, "identity provider unavailable", err)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from err, translating the store and
// auth sentinels along the way. It returns nil when err carries no known kind.
func GetServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	if se := FromStore(err); se != nil {
		return se
	}
	return FromAuth(err)
}

// FromStore maps kv failures onto the service taxonomy.
func FromStore(err error) *ServiceError {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, kv.ErrInvalidKey):
		return newError(CodeInvalidInput, http.StatusBadRequest, "invalid key", err)
	case stderrors.Is(err, kv.ErrInvalidValue):
		return newError(CodeInvalidInput, http.StatusBadRequest, "invalid value", err)
	case stderrors.Is(err, kv.ErrNotFound):
		return newError(CodeNotFound, http.StatusNotFound, "record not found", err)
	case stderrors.Is(err, kv.ErrConflict):
		return newError(CodeConflict, http.StatusConflict, "record was modified concurrently", err)
	case stderrors.Is(err, kv.ErrUnavailable):
		return StoreUnavailable(err)
	}
	return nil
}

// FromAuth maps auth failures onto the service taxonomy.
func FromAuth(err error) *ServiceError {
	if err != nil && stderrors.Is(err, auth.ErrUpstream) {
		return UpstreamAuthFailure(err)
	}
	return nil
}

// Is reports whether err is a ServiceError with the given code.
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
