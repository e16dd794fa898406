// Package errs defines the error taxonomy shared across the runtime: config
// failures, skill-source connectivity, tool dispatch failures, and the LLM
// boundary. Every error here wraps an underlying cause where one exists and
// supports errors.Is/errors.As through a Kind tag.
package errs

import "fmt"

// Kind tags an error with its taxonomy bucket so callers can branch on it
// without string matching: errors.Is against an &Error{Kind: ...} target,
// or IsKind.
type Kind string

const (
	KindConfig          Kind = "config"
	KindNotConnected    Kind = "not_connected"
	KindToolNotFound    Kind = "tool_not_found"
	KindToolTimeout     Kind = "tool_timeout"
	KindToolExecution   Kind = "tool_execution"
	KindLLM             Kind = "llm"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal_invariant"
)

// Error is the concrete error type used throughout the runtime. Component
// and Action describe where the failure occurred (e.g. "skill-registry",
// "execute"); Message is a human-readable summary; Err, if present, is the
// wrapped cause.
type Error struct {
	Kind      Kind
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &Error{Kind: KindX}) match any *Error with the same
// Kind, regardless of component/action/message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, component, action, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Action: action, Message: message, Err: err}
}

func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
