package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindBackend is a terminal server-side failure surfaced with any
	// server-supplied detail.
	KindBackend Kind = iota
	// KindDenied is a terminal, user-facing denial of an access request.
	KindDenied
	// KindTimeout is a terminal deadline expiry. Never retried at this
	// layer: re-submitting would duplicate the request.
	KindTimeout
	// KindProviderAuth is a device/token exchange denial or expiry.
	KindProviderAuth
	// KindTransient marks failures retryable with bounded backoff at call
	// sites explicitly marked retryable.
	KindTransient
	// KindToolIncompatible is detected from a subprocess's stderr and stops
	// any retry loop immediately.
	KindToolIncompatible
	// KindSecurity covers path traversal and permission anomalies. Always
	// fatal, never retried.
	KindSecurity
)

func (k Kind) String() string {
	switch k {
	case KindDenied:
		return "denied"
	case KindTimeout:
		return "timeout"
	case KindProviderAuth:
		return "provider-auth"
	case KindTransient:
		return "transient"
	case KindToolIncompatible:
		return "tool-incompatible"
	case KindSecurity:
		return "security"
	default:
		return "backend"
	}
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Denied(op, message string) *Error {
	return New(KindDenied, op, message)
}

func Backend(op string, err error) *Error {
	return Wrap(KindBackend, op, err)
}

func Timeout(op, message string) *Error {
	return New(KindTimeout, op, message)
}

func ProviderAuth(op, message string) *Error {
	return New(KindProviderAuth, op, message)
}

func Transient(op string, err error) *Error {
	return Wrap(KindTransient, op, err)
}

func ToolIncompatible(op, message string) *Error {
	return New(KindToolIncompatible, op, message)
}

func Security(op, message string) *Error {
	return New(KindSecurity, op, message)
}

// KindOf classifies err, defaulting to KindBackend for untyped errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindBackend
}

func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// ExitCode maps an error to the process exit code reported by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindDenied:
		return 3
	case KindTimeout:
		return 4
	case KindProviderAuth:
		return 5
	case KindToolIncompatible:
		return 6
	case KindSecurity:
		return 7
	default:
		return 1
	}
}
