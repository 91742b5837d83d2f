// Package brokerr implements the typed errors surfaced by the broker and
// transport packages (spec §7: UnknownEntity, DeclareConflict,
// UnsupportedType, TransportFailure, CallbackFailure).
package brokerr

import (
	"fmt"
	"runtime"
)

// Kind classifies a broker error for callers that need to branch on it.
type Kind string

const (
	// UnknownEntity is returned for publish to an unknown exchange, bind
	// with a missing exchange/queue, or operations referencing a
	// non-existent consumer tag or delivery tag.
	UnknownEntity Kind = "unknown_entity"

	// DeclareConflict is returned when redeclaring an exchange or queue
	// with attributes that differ from the existing declaration.
	DeclareConflict Kind = "declare_conflict"

	// UnsupportedType is returned for a non-topic exchange declaration.
	UnsupportedType Kind = "unsupported_type"

	// TransportFailure is used by external-broker transport variants for
	// channel/protocol level failures. Unused by the in-process variant.
	TransportFailure Kind = "transport_failure"

	// CallbackFailure classifies a failing consumer callback. The
	// in-process consumer worker recovers and logs callback panics itself
	// and does not construct an error of this kind.
	CallbackFailure Kind = "callback_failure"
)

// Error is a typed error carrying a Kind plus the call site that created
// it, so failures logged by the ingress router can be inspected later.
type Error struct {
	Kind  Kind
	msg   string
	prev  error
	frame string
}

// New creates a typed Error of the given Kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:  kind,
		msg:   fmt.Sprintf(format, args...),
		frame: caller(),
	}
}

// Wrap attaches a Kind to an existing error, preserving it for Unwrap.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: err.Error(), prev: err, frame: caller()}
}

func (e *Error) Error() string {
	if e.frame == "" {
		return e.msg
	}
	return fmt.Sprintf("%s (%s)", e.msg, e.frame)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.prev
}

// Is reports whether target is a *Error with the same Kind, supporting
// errors.Is(err, brokerr.New(brokerr.UnknownEntity, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", file, line)
}
