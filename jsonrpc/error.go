package jsonrpc

import (
	"fmt"
)

// ErrorCode represents a JSON-RPC error code
type ErrorCode int

// JSON-RPC 2.0 error codes as defined in https://www.jsonrpc.org/specification
const (
	// Parse error (-32700)
	// Invalid JSON was received by the server.
	// An error occurred on the server while parsing the JSON text.
	ErrParse ErrorCode = -32700

	// Invalid Request (-32600)
	// The JSON sent is not a valid Request object.
	ErrInvalidRequest ErrorCode = -32600

	// Method not found (-32601)
	// The method does not exist / is not available.
	ErrMethodNotFound ErrorCode = -32601

	// Invalid params (-32602)
	// Invalid method parameter(s).
	ErrInvalidParams ErrorCode = -32602

	// Internal error (-32603)
	// Internal JSON-RPC error.
	ErrInternal ErrorCode = -32603

	// Server error (-32000 to -32099)
	// Reserved for implementation-defined server-errors.
	// Used for HTTP-level transport rejections (bad headers, wrong method).
	ErrServer ErrorCode = -32000
)

// errorDetails maps error codes to their standard messages
var errorDetails = map[ErrorCode]string{
	ErrParse:          "Parse error",
	ErrInvalidRequest: "Invalid Request",
	ErrMethodNotFound: "Method not found",
	ErrInvalidParams:  "Invalid params",
	ErrInternal:       "Internal error",
	ErrServer:         "Server error",
}

// Error represents a JSON-RPC error object
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`

	cause error
}

var _ error = &Error{}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewError creates a new JSON-RPC error with the given code and optional data.
// The message is the standard message for the code.
func NewError(code ErrorCode, data any) *Error {
	msg, ok := errorDetails[code]
	if !ok {
		if code >= -32099 && code <= -32000 {
			msg = "Server error"
		} else {
			msg = "Unknown error"
		}
	}

	return &Error{
		Code:    code,
		Message: msg,
		Data:    data,
	}
}

// Errorf creates a JSON-RPC error with a formatted message in place of the
// standard one.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Unwrap returns the error recorded with Wrap, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap returns a copy of e that unwraps to cause. The cause is not marshaled.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}
