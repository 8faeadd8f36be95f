package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure
type Kind string

const (
	// KindNoToken means no auth token could be resolved; terminal until a
	// human supplies credentials
	KindNoToken Kind = "NO_TOKEN"
	// KindAuthRejected means the backend explicitly rejected the token;
	// terminal until a new token is supplied
	KindAuthRejected Kind = "AUTH_REJECTED"
	// KindNetworkUnreachable means the backend could not be reached at the
	// network level; retried with capped exponential backoff
	KindNetworkUnreachable Kind = "NETWORK_UNREACHABLE"
	// KindTimedOut means a single request got no response within its fixed
	// timeout; the connection itself is unaffected
	KindTimedOut Kind = "TIMED_OUT"
	// KindRemoteError means the backend explicitly reported failure for a
	// specific command; the message is surfaced verbatim
	KindRemoteError Kind = "REMOTE_ERROR"
	// KindBackendUnreachable means the transport cannot ultimately deliver
	// (for example the connection was closed for good)
	KindBackendUnreachable Kind = "BACKEND_UNREACHABLE"
)

// Error is a classified transport error
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a new classified transport error
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// wrapError classifies an underlying error while keeping it in the chain
func wrapError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

// KindOf returns the Kind of err, or "" if err is not a transport error
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
