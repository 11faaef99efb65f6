package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Pipeline error kinds. Every failure that leaves an agent, the memory
// manager or a router carries one of these codes.
const (
	ErrTemplate         ErrorCode = "TEMPLATE_ERROR"
	ErrModelInvocation  ErrorCode = "MODEL_INVOCATION_ERROR"
	ErrResponseParse    ErrorCode = "RESPONSE_PARSE_ERROR"
	ErrToolLoopExceeded ErrorCode = "TOOL_LOOP_EXCEEDED"
	ErrStorage          ErrorCode = "STORAGE_ERROR"
	ErrNoRouteMatched   ErrorCode = "NO_ROUTE_MATCHED"
)

// Ambient error codes.
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	ErrToolExecution      ErrorCode = "TOOL_EXECUTION_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	// Raw holds the last model output for parse failures.
	Raw   string `json:"raw,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, &Error{Code: ErrStorage}) matches any storage failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRaw attaches raw model output.
func (e *Error) WithRaw(raw string) *Error {
	e.Raw = raw
	return e
}

// AsError extracts an *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// =============================================================================
// Constructors for the pipeline error kinds
// =============================================================================

// NewTemplateError reports a placeholder that could not be resolved.
func NewTemplateError(key string, cause error) *Error {
	msg := "template rendering failed"
	if key != "" {
		msg = fmt.Sprintf("unresolved template placeholder %q", key)
	}
	return &Error{Code: ErrTemplate, Message: msg, HTTPStatus: http.StatusBadRequest, Cause: cause}
}

// NewModelInvocationError wraps a model backend failure.
func NewModelInvocationError(provider string, cause error) *Error {
	e := &Error{
		Code:       ErrModelInvocation,
		Message:    "model invocation failed",
		HTTPStatus: http.StatusBadGateway,
		Provider:   provider,
		Cause:      cause,
	}
	if inner, ok := AsError(cause); ok {
		e.Retryable = inner.Retryable
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		e.Message = "model invocation timed out"
		e.HTTPStatus = http.StatusGatewayTimeout
	}
	return e
}

// NewResponseParseError reports output that did not match the declared type.
func NewResponseParseError(raw string, cause error) *Error {
	return &Error{
		Code:       ErrResponseParse,
		Message:    "model output did not match the declared type",
		HTTPStatus: http.StatusUnprocessableEntity,
		Raw:        raw,
		Cause:      cause,
	}
}

// NewToolLoopExceededError reports a tool loop that hit its iteration bound.
func NewToolLoopExceededError(limit int) *Error {
	return &Error{
		Code:       ErrToolLoopExceeded,
		Message:    fmt.Sprintf("tool loop exceeded %d iterations", limit),
		HTTPStatus: http.StatusLoopDetected,
	}
}

// NewStorageError wraps a memory backend failure.
func NewStorageError(op string, cause error) *Error {
	msg := "memory storage failed"
	if op != "" {
		msg = fmt.Sprintf("memory %s failed", op)
	}
	return &Error{Code: ErrStorage, Message: msg, HTTPStatus: http.StatusServiceUnavailable, Cause: cause}
}

// NewNoRouteMatchedError reports a routing score below the configured threshold.
func NewNoRouteMatchedError(best string, score, threshold float64) *Error {
	msg := "no route matched"
	if best != "" {
		msg = fmt.Sprintf("no route matched: best %q scored %.3f below threshold %.3f", best, score, threshold)
	}
	return &Error{Code: ErrNoRouteMatched, Message: msg, HTTPStatus: http.StatusNotFound}
}
