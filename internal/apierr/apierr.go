// Package apierr defines the error taxonomy shared by the task engine, the
// ingestion engine, and the HTTP surface, so that every layer can classify a
// failure without re-deriving what kind of error it is. Only the outermost
// boundary (an HTTP handler or the worker job loop) converts one of these
// into a wire-level message or a terminal task state.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy discriminator from the error-handling design.
type Kind int

const (
	// KindBadRequest marks a missing or malformed caller-supplied parameter.
	KindBadRequest Kind = iota
	// KindNotFound marks an absent run, task, or source table.
	KindNotFound
	// KindUnauthorized marks a caller lacking the required role or stage
	// ownership.
	KindUnauthorized
	// KindConflict marks a task that is not in a runnable state.
	KindConflict
	// KindStorageError marks a database failure.
	KindStorageError
	// KindIngestionError marks a file-ingestion failure: missing file,
	// unsupported extension, parse failure, missing sub-table.
	KindIngestionError
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	case KindUnauthorized:
		return "Unauthorized"
	case KindConflict:
		return "Conflict"
	case KindStorageError:
		return "StorageError"
	case KindIngestionError:
		return "IngestionError"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. Wrap a lower-level error with Wrap so
// callers can still unwrap to it via errors.Is/errors.As/errors.Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// New constructs a taxonomy error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a taxonomy error around an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, err: err}
}

// BadRequest, NotFound, Unauthorized, Conflict, Storage, and Ingestion are
// convenience constructors matching the taxonomy's six kinds.
func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Storage(err error, format string, args ...any) *Error {
	return Wrap(KindStorageError, fmt.Sprintf(format, args...), err)
}

func Ingestion(err error, format string, args ...any) *Error {
	return Wrap(KindIngestionError, fmt.Sprintf(format, args...), err)
}

// KindOf extracts the taxonomy kind from err, defaulting to KindStorageError
// for an error that never passed through this package — an unclassified
// failure is treated as an internal storage-layer failure, never leaked to
// the client as a 400.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageError
}

// Message returns the client-facing text for err: the bare Msg for a
// classified *Error (never the Kind prefix or a wrapped internal cause,
// which may name storage details not meant for the wire), or err.Error()
// for anything else.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// HTTPStatus maps a Kind to the status code the API surface should respond
// with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindIngestionError:
		return 422
	case KindStorageError:
		return 500
	default:
		return 500
	}
}
