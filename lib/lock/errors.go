package lock

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type of the lock package. It wraps a Code, an error
// message and optionally the error that caused it.
//
// Errors are matched by code: errors.Is(err, ErrProtocol) is true for every
// *Error with CodeProtocol.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LockError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("LockError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// newError creates a new *Error
func newError(code Code, msg string, cause error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  cause,
	}
}

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type Code uint8

const (
	CodeUnknown      Code = iota // 0: not used
	CodeProtocol                 // 1: a script returned something that is not part of the wire contract
	CodeNotHeld                  // 2: strict unlock by a caller that does not hold the lock
	CodeCancelled                // 3: an interruptible acquisition was cancelled
	CodeNoOwner                  // 4: the context carries no Owner
	CodeInvalidLease             // 5: lease must be positive
	CodeInvalidArgument          // 6: invalid constructor argument
)

func (c Code) String() string {
	switch c {
	case CodeProtocol:
		return "Protocol"
	case CodeNotHeld:
		return "NotHeld"
	case CodeCancelled:
		return "Cancelled"
	case CodeNoOwner:
		return "NoOwner"
	case CodeInvalidLease:
		return "InvalidLease"
	case CodeInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Sentinel values for errors.Is
var (
	ErrProtocol        = &Error{Code: CodeProtocol, Msg: "unexpected script result"}
	ErrNotHeld         = &Error{Code: CodeNotHeld, Msg: "not locked by current owner"}
	ErrCancelled       = &Error{Code: CodeCancelled, Msg: "acquisition cancelled"}
	ErrNoOwner         = &Error{Code: CodeNoOwner, Msg: "no owner in context, use lock.WithOwner"}
	ErrInvalidLease    = &Error{Code: CodeInvalidLease, Msg: "lease must be positive"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Msg: "invalid argument"}
)

// protocolError reports an unexpected result of a script
func protocolError(s *Script, result string, ok bool) error {
	if !ok {
		return newError(CodeProtocol, fmt.Sprintf("script %s returned nil", s.Name), nil)
	}
	return newError(CodeProtocol, fmt.Sprintf("script %s returned %q", s.Name, result), nil)
}

// cancelled wraps the context error
func cancelled(cause error) error {
	return newError(CodeCancelled, ErrCancelled.Msg, cause)
}
