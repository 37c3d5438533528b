// Package errors defines custom error types and error handling utilities for the admission service.
// Every error carries a stable code and the HTTP status an outer transport should map it to.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a class of failure.
type Code string

const (
	CodeInternal          Code = "internal_error"
	CodeInvalidRequest    Code = "invalid_request"
	CodeInvalidConfig     Code = "invalid_config"
	CodeClockRollback     Code = "clock_rollback"
	CodeStoreUnavailable  Code = "store_unavailable"
	CodeRateLimitExceeded Code = "rate_limit_exceeded"
	CodeNotFound          Code = "not_found"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// AdmitError represents a structured error with additional metadata
type AdmitError interface {
	error

	// Code returns the machine readable error code
	Code() Code

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Retryable reports whether the caller may retry the same operation later
	Retryable() bool

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) AdmitError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) AdmitError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code       Code
	httpStatus int
	retryable  bool
	message    string
	cause      error
	metadata   map[string]interface{}
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Code() Code                       { return e.code }
func (e *baseError) HTTPStatus() int                  { return e.httpStatus }
func (e *baseError) Retryable() bool                  { return e.retryable }
func (e *baseError) Unwrap() error                    { return e.cause }
func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// Is matches any AdmitError carrying the same code, so callers can write
// errors.Is(err, errors.ErrStoreUnavailable(nil)) or use IsCode.
func (e *baseError) Is(target error) bool {
	var other AdmitError
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code() == e.code
}

func (e *baseError) WithCause(cause error) AdmitError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) AdmitError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// NewError creates a new AdmitError with the specified parameters
func NewError(code Code, httpStatus int, retryable bool, message string) AdmitError {
	return &baseError{
		code:       code,
		httpStatus: httpStatus,
		retryable:  retryable,
		message:    message,
		metadata:   make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInternal creates a generic server error. Rejections must never use it.
func ErrInternal(message string) AdmitError {
	return NewError(CodeInternal, http.StatusInternalServerError, false, message)
}

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) AdmitError {
	return NewError(CodeInvalidRequest, http.StatusBadRequest, false, message)
}

// ErrInvalidConfig reports configuration that must be fixed before startup.
func ErrInvalidConfig(field, reason string) AdmitError {
	return NewError(CodeInvalidConfig, http.StatusInternalServerError, false,
		fmt.Sprintf("invalid config %s: %s", field, reason)).
		WithMetadata("field", field)
}

// ErrClockRollback reports that the wall clock moved behind the last issued ID.
func ErrClockRollback(lastMillis, nowMillis int64) AdmitError {
	return NewError(CodeClockRollback, http.StatusInternalServerError, false,
		fmt.Sprintf("clock moved backwards by %dms", lastMillis-nowMillis)).
		WithMetadata("last_ms", lastMillis).
		WithMetadata("now_ms", nowMillis)
}

// ErrStoreUnavailable wraps a failure of the remote queue or counter store.
func ErrStoreUnavailable(op string, cause error) AdmitError {
	return NewError(CodeStoreUnavailable, http.StatusServiceUnavailable, true,
		fmt.Sprintf("store unavailable during %s", op)).
		WithMetadata("op", op).
		WithCause(cause)
}

// ErrRateLimited is the client-facing rejection. It is retryable after retryAfter.
func ErrRateLimited(route string, limit uint64, retryAfter time.Duration) AdmitError {
	return NewError(CodeRateLimitExceeded, http.StatusTooManyRequests, true,
		"too many requests").
		WithMetadata("route", route).
		WithMetadata("limit", limit).
		WithMetadata("retry_after_seconds", RetryAfterSeconds(retryAfter))
}

// ErrNotFound creates a not_found error
func ErrNotFound(what string) AdmitError {
	return NewError(CodeNotFound, http.StatusNotFound, false, what+" not found")
}

// ================================================================================
// Error Utilities
// ================================================================================

// As extracts an AdmitError from an error chain.
func As(err error) (AdmitError, bool) {
	var ae AdmitError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsCode reports whether any error in the chain carries the code.
func IsCode(err error, code Code) bool {
	ae, ok := As(err)
	return ok && ae.Code() == code
}

// RetryAfterSeconds rounds a delay up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse. Errors that are not
// AdmitErrors collapse to a generic server error without leaking details.
func ToErrorResponse(err error) (int, *ErrorResponse) {
	ae, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, &ErrorResponse{
			Error:            string(CodeInternal),
			ErrorDescription: "An unexpected error occurred",
		}
	}
	resp := &ErrorResponse{
		Error:            string(ae.Code()),
		ErrorDescription: ae.Error(),
	}
	if ae.HTTPStatus() < http.StatusInternalServerError {
		resp.Metadata = ae.Metadata()
	} else {
		resp.ErrorDescription = "An unexpected error occurred"
	}
	return ae.HTTPStatus(), resp
}
