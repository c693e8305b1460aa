// Package lherr implements the discriminated error outcomes of the
// document store and cluster, generalizing the single wrapped-sentinel
// pattern coredhcp uses for token errors
// (plugins/leasestorage/token.go's TokenError) to the handful of kinds the
// HTTP facade needs to translate into status codes.
package lherr

import "errors"

// Kind discriminates the outcome of a failed Store/Cluster operation.
type Kind int

const (
	// NotFound covers a missing path or a missing lease.
	NotFound Kind = iota
	// Forbidden covers a write attempted on /data, or a lease held by another code.
	Forbidden
	// BadRequest covers malformed JSON or a missing required field.
	BadRequest
	// Conflict covers a commit whose staged base has been overtaken by a concurrent push.
	Conflict
	// Unavailable covers the store running in degraded/no-snapshot mode.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Forbidden:
		return "forbidden"
	case BadRequest:
		return "bad request"
	case Conflict:
		return "conflict"
	case Unavailable:
		return "service unavailable"
	default:
		return "error"
	}
}

// Error is the discriminated error type returned by Store, Document and
// Cluster operations. The HTTP facade is the only caller allowed to
// inspect Kind; every other package treats it as an opaque error.
type Error struct {
	Kind    Kind
	message string
	inner   error
}

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, message: message}
}

// Wrap attaches a kind to an existing error, preserving it for Unwrap.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, inner: err}
}

func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	if e.inner != nil {
		return e.inner.Error()
	}
	return e.Kind.String()
}

// Unwrap exposes the wrapped error, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.inner
}

// Is lets errors.Is(err, lherr.NotFound) style sentinels work by comparing
// kinds instead of pointer identity: two *Error values of the same Kind
// are considered equivalent.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to NotFound's zero value only when the error truly isn't ours — callers
// should always check ok.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Sentinel values usable with errors.Is for common outcomes.
var (
	ErrNotFound    = New(NotFound, "not found")
	ErrForbidden   = New(Forbidden, "forbidden")
	ErrBadRequest  = New(BadRequest, "bad request")
	ErrConflict    = New(Conflict, "conflict")
	ErrUnavailable = New(Unavailable, "service unavailable")
)
