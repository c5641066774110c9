package rpc

import (
	"errors"
	"fmt"
)

// Error codes sent to the remote caller in the "error" field.
const (
	CodeUnknownMethod  = "UnknownMethod"
	CodeHandlerError   = "HandlerError"
	CodeTimeout        = "RpcTimeout"
	CodeInvalidRequest = "InvalidRequest"
)

// Sentinel errors matched by *Error through errors.Is.
var (
	// ErrUnknownMethod means no handler is registered for the method.
	ErrUnknownMethod = errors.New("rpc: unknown method")

	// ErrHandler means the handler returned an error or panicked.
	ErrHandler = errors.New("rpc: handler failed")

	// ErrTimeout means the handler did not finish within the RPC timeout.
	ErrTimeout = errors.New("rpc: timed out")

	// ErrInvalidRequest means the request payload could not be parsed.
	ErrInvalidRequest = errors.New("rpc: invalid request")

	// ErrDuplicateRequest is returned when a request id is already pending.
	// No response is sent for the duplicate.
	ErrDuplicateRequest = errors.New("rpc: request id already pending")

	// ErrInvalidHandler is returned by Register for an empty method or nil handler.
	ErrInvalidHandler = errors.New("rpc: method and handler are required")
)

// Error is a structured RPC failure returned to the remote caller.
type Error struct {
	Code    string
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// NewError builds an *Error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "rpc: " + e.Code
	}
	return "rpc: " + e.Code + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e's code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnknownMethod:
		return e.Code == CodeUnknownMethod
	case ErrHandler:
		return e.Code == CodeHandlerError
	case ErrTimeout:
		return e.Code == CodeTimeout
	case ErrInvalidRequest:
		return e.Code == CodeInvalidRequest
	}
	return false
}

// Payload is the response body published for this error.
func (e *Error) Payload() map[string]any {
	return map[string]any{
		"error":   e.Code,
		"message": e.Message,
	}
}

// ErrorPayload converts any dispatch error into a response body.
// Errors that are not an *Error are reported as handler errors.
func ErrorPayload(err error) map[string]any {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Payload()
	}
	return (&Error{Code: CodeHandlerError, Message: err.Error()}).Payload()
}
