package errs

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can tell a recoverable probe failure
// from a fatal compiler or host failure without inspecting message text.
type Kind int

const (
	// Unknown is the zero Kind, reported for errors that did not come from this module.
	Unknown Kind = iota
	// Creation means the native compiler handle could not be built from the PTX source.
	Creation
	// Compile means the native compiler rejected the program or its options.
	Compile
	// State means a session operation was called in the wrong lifecycle state.
	State
	// HostIncompatible means the code-generation framework cannot be patched.
	HostIncompatible
	// Probe means the isolated version probe failed or produced malformed data.
	Probe
	// UnsupportedLink means more than one PTX fragment was given for one architecture.
	UnsupportedLink
)

func (k Kind) String() string {
	switch k {
	case Creation:
		return "CreationError"
	case Compile:
		return "CompileError"
	case State:
		return "StateError"
	case HostIncompatible:
		return "HostIncompatibleError"
	case Probe:
		return "ProbeError"
	case UnsupportedLink:
		return "UnsupportedLinkError"
	default:
		return "UnknownError"
	}
}

// Error is the error type returned by every package of this module.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "session.Compile".
	Op string
	// Detail carries diagnostic text captured from the failing component:
	// the compiler error log, or the probe's stdout/stderr.
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

// New returns an *Error of the given kind.
func New(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: cause}
}

// Errorf returns an *Error without a cause whose detail is formatted.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, errs.Probe.Err()) works
// without comparing details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Detail == "" && t.Err == nil
}

// Err returns a bare sentinel of kind k, for use with errors.Is.
func (k Kind) Err() error {
	return &Error{Kind: k}
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// DetailOf returns the diagnostic text of the first *Error in err's chain.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}
