package rpc

import (
	"errors"
	"fmt"
)

// Reply error codes. Handler-defined codes pass through unchanged.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeCancelled      = -32800
)

// UnknownErrorMessage is the literal sent when a handler fails with
// something that is not an error value.
const UnknownErrorMessage = "Unknown error"

// Error is the error member of a reply. A handler returning an *Error
// (or an error wrapping one) controls the code, message and data the
// client receives.
type Error struct {
	Code    int    `json:"code" cbor:"code"`
	Message string `json:"message" cbor:"message"`
	Data    any    `json:"data,omitempty" cbor:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates a protocol error with a stable code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	c := *e
	c.Data = data
	return &c
}

// NewParseError reports a payload that is not valid JSON.
func NewParseError(detail string) *Error {
	return &Error{Code: CodeParseError, Message: "Parse error", Data: detail}
}

// NewInvalidRequestError reports a well-formed payload that is not a
// valid call envelope.
func NewInvalidRequestError(detail string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "Invalid request", Data: detail}
}

// NewMethodNotFoundError reports an unknown entrypoint.
func NewMethodNotFoundError(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("Invalid entrypoint: '%s'", method)}
}

// NewInvalidParamsError carries the full list of validation messages.
func NewInvalidParamsError(messages []string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params", Data: append([]string(nil), messages...)}
}

// NewInternalError wraps the message of an arbitrary handler failure.
func NewInternalError(message string) *Error {
	return &Error{Code: CodeInternalError, Message: message}
}

// NewCancelledError is the reply of a task that honoured cancellation.
func NewCancelledError() *Error {
	return &Error{Code: CodeCancelled, Message: "Request cancelled"}
}

// FromError maps a handler error onto the reply sent to the client. A
// protocol error anywhere in the chain is sent as-is; anything else is
// wrapped with its message text.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var protocol *Error
	if errors.As(err, &protocol) {
		return protocol
	}
	return NewInternalError(err.Error())
}

// FromPanic maps a value recovered from a panicking handler. Error values
// keep their message; anything else becomes "Unknown error".
func FromPanic(recovered any) *Error {
	if err, ok := recovered.(error); ok {
		return FromError(err)
	}
	return NewInternalError(UnknownErrorMessage)
}

// RequestError is returned by Parse. It carries the id recovered from the
// payload, if any, so the rejection can still be correlated by the client.
type RequestError struct {
	ID    ID
	Reply *Error
}

func (e *RequestError) Error() string { return e.Reply.Error() }

func (e *RequestError) Unwrap() error { return e.Reply }
