// Package apperr defines the error taxonomy shared by the book and coupon
// services: Validation, NotFound, Conflict, Business, and Internal. A
// transport binding maps Kind to a status code without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindBusiness   Kind = "business"
	KindInternal   Kind = "internal"
)

// Error is the concrete error type returned by every service operation.
// Op names the failing operation (e.g. "CreateBook", "Redeem") for logs;
// it is never shown verbatim to callers the way Msg is.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target has the same Kind, so callers can write
// errors.Is(err, apperr.Conflict("", "")) style checks, but in practice
// KindOf is the preferred inspection path.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newErr(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Validation(op, msg string) *Error          { return newErr(KindValidation, op, msg, nil) }
func NotFound(op, msg string) *Error            { return newErr(KindNotFound, op, msg, nil) }
func Conflict(op, msg string) *Error            { return newErr(KindConflict, op, msg, nil) }
func Business(op, msg string) *Error            { return newErr(KindBusiness, op, msg, nil) }
func Internal(op, msg string, err error) *Error { return newErr(KindInternal, op, msg, err) }

// KindOf extracts the Kind of err, defaulting to KindInternal for errors
// that did not originate from this package (a repository/cache adapter
// that leaks a raw driver error is a bug, but callers still get a safe
// generic classification instead of a panic).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinel errors for the most common not-found checks, so callers can
// compare without needing Op/Msg detail.
var (
	ErrBookNotFound       = NotFound("", "coupon book not found")
	ErrCouponNotFound     = NotFound("", "coupon not found")
	ErrAssignmentNotFound = NotFound("", "assignment not found")
)
