package types

import "fmt"

// ErrorCode represents a unified error code across the kernel.
type ErrorCode string

// Flow and node error codes
const (
	ErrValidation     ErrorCode = "VALIDATION"
	ErrMissingBinding ErrorCode = "MISSING_BINDING"
	ErrNodeExecution  ErrorCode = "NODE_EXECUTION"
	ErrFlowFail       ErrorCode = "FLOW_FAIL"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrLoopExceeded   ErrorCode = "LOOP_EXCEEDED"
	ErrTypeNotFound   ErrorCode = "TYPE_NOT_FOUND"
	ErrSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"
)

// Command and infrastructure error codes
const (
	ErrInvalidCommand     ErrorCode = "INVALID_COMMAND"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrSessionNotPaused   ErrorCode = "SESSION_NOT_PAUSED"
	ErrUnknownPrompt      ErrorCode = "UNKNOWN_PROMPT"
	ErrRateLimit          ErrorCode = "RATE_LIMIT"
	ErrStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
	Path      string    `json:"path,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithNode attaches the failing node id.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithPath attaches the binding path that failed to resolve.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithTraceID attaches an observability trace reference.
func (e *Error) WithTraceID(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable || e.Code == ErrRateLimit
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
