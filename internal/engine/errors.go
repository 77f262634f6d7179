package engine

import (
	"errors"
	"fmt"

	"helpling/internal/domain"
)

// Code classifies domain failures. Values double as the RPC error codes where the
// two coincide.
type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodeNotFound         Code = "not-found"
	CodePermissionDenied Code = "permission-denied"
	CodeInvalidState     Code = "invalid-state"
	CodeInvalidArgument  Code = "invalid-argument"
)

// Error is a user-facing domain failure.
type Error struct {
	Code    Code
	Message string
	// State is the item's lifecycle state when Code is CodeInvalidState.
	State domain.Status
}

func (e *Error) Error() string { return e.Message }

// Is matches any *Error with the same code, so errors.Is(err, ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthenticated  = &Error{Code: CodeUnauthenticated, Message: "Need to be authenticated."}
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrInvalidState     = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DependencyError wraps a failure of the store or another collaborator. It carries
// no user-facing reason; callers are expected to retry.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *DependencyError) Unwrap() error { return e.Err }

// dependency wraps err unless it is already classified.
func dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	var dep *DependencyError
	if errors.As(err, &dep) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// CodeOf returns the domain code of err, or "" for dependency and unknown errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsDependency reports whether err came from a collaborator rather than a rule.
func IsDependency(err error) bool {
	var dep *DependencyError
	return errors.As(err, &dep)
}
