package worker

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// Code is the terminal outcome of a benchmark session stream.
type Code int

const (
	OK Code = iota
	// ResourceExhausted indicates that a session is already active on this
	// worker. The driver is expected to retry on a different worker.
	ResourceExhausted
	// InvalidArgument indicates a protocol sequencing violation or an
	// engine that could not be constructed from the setup descriptor.
	InvalidArgument
	// Unknown indicates that a reply could not be delivered to the driver.
	Unknown
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case ResourceExhausted:
		return "resource_exhausted"
	case InvalidArgument:
		return "invalid_argument"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// CloseCode maps a session outcome onto the WebSocket close code carried
// by the stream's final close frame.
func (c Code) CloseCode() int {
	switch c {
	case OK:
		return websocket.CloseNormalClosure
	case ResourceExhausted:
		return websocket.CloseTryAgainLater
	case InvalidArgument:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// Error wraps a session outcome code with a human-readable explanation and
// an optional upstream cause.
type Error struct {
	Code     Code
	Message  string
	Upstream error
}

var _ error = (*Error)(nil)

// NewError constructs a session error from the given code and upstream
// cause (which can be nil).
func NewError(code Code, upstream error, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Upstream: upstream,
	}
}

func (e Error) Error() string {
	if e.Upstream != nil {
		return fmt.Sprintf("%s. Caused by: %s", e.Message, e.Upstream.Error())
	}
	return e.Message
}

// codeForSessionError extracts the outcome code from a session handler's
// result, where nil means a graceful close.
func codeForSessionError(err *Error) Code {
	if err == nil {
		return OK
	}
	return err.Code
}
