// Package kerr defines the error taxonomy used at component boundaries.
// Internal helpers wrap freely; boundaries classify into a Kind so that
// callers can branch on policy (retry, partial result, fail fast)
// without string matching.
package kerr

import (
	"errors"
	"fmt"
)

// Kind classifies a boundary error.
type Kind string

// Error kinds.
const (
	KindConfig        Kind = "config"
	KindDataIntegrity Kind = "data_integrity"
	KindRateLimited   Kind = "rate_limited"
	KindConnLost      Kind = "connection_lost"
	KindNoData        Kind = "no_data"
	KindContract      Kind = "contract"
	KindCancelled     Kind = "cancelled"
	KindPersistence   Kind = "persistence"
	KindModel         Kind = "model"
)

// Error is a classified error with optional structured context.
type Error struct {
	Kind    Kind
	Msg     string
	Context map[string]string
	Err     error
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// With attaches a context field and returns the error for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so sentinel comparisons
// like errors.Is(err, &Error{Kind: KindRateLimited}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind of an error, or "" if unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
