/**
 * Error taxonomy for the workbench core.
 *
 * Every failure carries a machine-distinguishable kind plus a human-readable
 * message; callers decide presentation. Per-item backend failures stay
 * per-item (Transient/Auth), user-edit rejections are Validation, repository
 * write failures are Persistence, and malformed reads are Corruption.
 */

package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a workbench error.
type Kind string

const (
	// KindTransient marks network/timeout failures on backend calls. Eligible
	// for caller-level retry; never retried inside the core.
	KindTransient Kind = "TRANSIENT_BACKEND"

	// KindAuth marks credential failures. Surfaced immediately, not retried.
	KindAuth Kind = "AUTH"

	// KindValidation marks malformed user edits; state is left unchanged.
	KindValidation Kind = "VALIDATION"

	// KindPersistence marks repository write failures. Surfaced so staged
	// work is never silently lost.
	KindPersistence Kind = "PERSISTENCE"

	// KindCorruption marks malformed persisted documents. Reads recover
	// locally by treating the document as absent.
	KindCorruption Kind = "PERSISTENCE_CORRUPTION"
)

// Error is the workbench error type.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Factory functions, one per kind.

func Transient(op, message string, cause error) *Error {
	return &Error{Kind: KindTransient, Op: op, Message: message, Cause: cause}
}

func Auth(op, message string, cause error) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: message, Cause: cause}
}

func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func Persistence(op, message string, cause error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Message: message, Cause: cause}
}

func Corruption(op, message string, cause error) *Error {
	return &Error{Kind: KindCorruption, Op: op, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" for errors from outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
