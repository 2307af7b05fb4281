// Package errs defines the error taxonomy shared across the service. Each
// error carries a Kind that the HTTP layer maps to a status code and the
// work queue uses to decide retry behavior.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindValidation         Kind = "validation"
	KindPersistence        Kind = "persistence"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindExternalService    Kind = "external_service"
)

type Error struct {
	Kind Kind
	Op   string // "pkg.Func" of the failing operation
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error with no underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind and op to an underlying error. A nil cause yields nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from an error chain, KindUnknown when absent.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool  { return KindOf(err) == KindNotFound }
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }
