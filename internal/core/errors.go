// Package core holds the types shared by every lobby-coordinator
// component: the error taxonomy, and the capability interfaces (see
// collaborators.go) the registry depends on but never constructs itself.
package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the surface-visible error taxonomy from spec.md §7.
type ErrorKind string

const (
	ErrUnauthenticated ErrorKind = "Unauthenticated"
	ErrNotFound        ErrorKind = "NotFound"
	ErrAlreadyInLobby  ErrorKind = "AlreadyInLobby"
	ErrNotInLobby      ErrorKind = "NotInLobby"
	ErrFull            ErrorKind = "Full"
	ErrNotJoinable     ErrorKind = "NotJoinable"
	ErrInvalidState    ErrorKind = "InvalidState"
	ErrInternal        ErrorKind = "Internal"
)

// CoreError is the typed error every registry/queue operation returns.
type CoreError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError builds a CoreError with no wrapped cause.
func NewError(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap attaches a kind to an underlying error, the way the teacher wraps
// pgx/database errors with fmt.Errorf("...: %w", err).
func Wrap(kind ErrorKind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *CoreError,
// defaulting to ErrInternal for anything else.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrInternal
}
