// Package errs defines the pipeline error taxonomy. Components tag
// failures with a Kind so callers can branch on classification rather
// than on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInvalidInput        Kind = "invalid-input"
	KindMissingData         Kind = "missing-data"
	KindIntegrity           Kind = "integrity"
	KindCorruption          Kind = "corruption"
	KindUpstreamUnavailable Kind = "upstream-unavailable"
	KindTransient           Kind = "transient"
	KindSchemaIncompatible  Kind = "schema-incompatible"
)

// Error is a classified pipeline error. District and Op are optional
// context recorded where the failure occurred.
type Error struct {
	Kind     Kind
	Op       string
	District string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is worth retrying.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindUpstreamUnavailable
}

// New builds a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WithDistrict attaches district context.
func (e *Error) WithDistrict(id string) *Error {
	e.District = id
	return e
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// report KindTransient, the conservative default for I/O failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Is lets errors.Is match on kind sentinels produced by New with an
// empty message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}
