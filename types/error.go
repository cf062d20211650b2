package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across nodeflow.
type ErrorCode string

// Engine error codes
const (
	ErrUnknownNodeType    ErrorCode = "UNKNOWN_NODE_TYPE"
	ErrConfiguration      ErrorCode = "CONFIGURATION_ERROR"
	ErrHandlerExecution   ErrorCode = "HANDLER_EXECUTION_ERROR"
	ErrRetryableTransport ErrorCode = "RETRYABLE_TRANSPORT_ERROR"
	ErrCyclicGraph        ErrorCode = "CYCLIC_GRAPH"
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCancelled          ErrorCode = "CANCELLED"
)

// Service error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	NodeID     string    `json:"node_id,omitempty"`
	Cause      error     `json:"-"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// WithNode attributes the error to a workflow node.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// AsError extracts a *Error from an error chain.
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

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewUnknownNodeTypeError 节点类型未注册。
func NewUnknownNodeTypeError(nodeType string) *Error {
	return Errorf(ErrUnknownNodeType, "unknown node type: %s", nodeType)
}

// NewConfigurationError 缺少必需配置。
func NewConfigurationError(message string) *Error {
	return NewError(ErrConfiguration, message)
}

// NewHandlerError 包装处理器内部异常。
func NewHandlerError(message string, cause error) *Error {
	return NewError(ErrHandlerExecution, message).WithCause(cause)
}

// NewTransportError 可重试的传输错误。
func NewTransportError(message string, cause error) *Error {
	return NewError(ErrRetryableTransport, message).WithCause(cause).WithRetryable(true)
}

// NewValidationError 执行前结构校验失败。
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewCyclicGraphError 图中存在环。
func NewCyclicGraphError(nodeID string) *Error {
	return Errorf(ErrCyclicGraph, "cycle detected in graph involving node: %s", nodeID).
		WithHTTPStatus(http.StatusBadRequest)
}
