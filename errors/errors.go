// Package errors provides error handling for rdm.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
//
// On top of the re-exports it defines the stable error kinds used across
// the conversion pipeline. Every failure that crosses a package boundary
// carries a Kind so callers can react without string matching:
//
//	if errors.KindOf(err) == errors.KindCorruptContainer {
//	    // record per-file failure, keep the batch running
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Kind is the stable classification tag attached to rdm errors.
// Kinds are part of the public failure contract: they appear in reports
// and decide whether a failure is fatal, per-file, or advisory.
type Kind int

const (
	// KindUnknown is the zero value for errors without a classification.
	KindUnknown Kind = iota

	// KindConfiguration marks bad or unknown options and unsupported
	// format ids. Fatal, surfaced immediately, never retried.
	KindConfiguration

	// KindCorruptContainer marks malformed on-disk structure. Aborts the
	// affected file's conversion, never the whole batch.
	KindCorruptContainer

	// KindSchemaMismatch marks declared dtype/shape conflicts and
	// error-severity validation findings.
	KindSchemaMismatch

	// KindIOFailure wraps underlying storage errors. Always surfaced,
	// never silently swallowed.
	KindIOFailure

	// KindUnsupportedCapability marks a read or write request a format
	// cannot serve. Fatal at adapter-open time.
	KindUnsupportedCapability

	// KindTimeout marks a per-file conversion exceeding its deadline.
	KindTimeout
)

// String returns the stable tag used in reports and CLI output.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCorruptContainer:
		return "corrupt_container"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindIOFailure:
		return "io_failure"
	case KindUnsupportedCapability:
		return "unsupported_capability"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// kindError attaches a Kind to an error chain. It stays private; callers
// go through WithKind/KindOf and the per-kind constructors below.
type kindError struct {
	cause error
	kind  Kind
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }

// WithKind attaches a classification to err. A nil err stays nil.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{cause: err, kind: kind}
}

// KindOf returns the Kind attached to err's chain,
// or KindUnknown when none is present.
func KindOf(err error) Kind {
	var ke *kindError
	if As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// HasKind reports whether err carries the given classification.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Configurationf creates a KindConfiguration error.
func Configurationf(format string, args ...interface{}) error {
	return WithKind(Newf(format, args...), KindConfiguration)
}

// CorruptContainerf creates a KindCorruptContainer error.
func CorruptContainerf(format string, args ...interface{}) error {
	return WithKind(Newf(format, args...), KindCorruptContainer)
}

// SchemaMismatchf creates a KindSchemaMismatch error.
func SchemaMismatchf(format string, args ...interface{}) error {
	return WithKind(Newf(format, args...), KindSchemaMismatch)
}

// UnsupportedCapabilityf creates a KindUnsupportedCapability error.
func UnsupportedCapabilityf(format string, args ...interface{}) error {
	return WithKind(Newf(format, args...), KindUnsupportedCapability)
}

// WrapIO wraps a storage error with context and KindIOFailure,
// preserving any classification already present in the chain.
func WrapIO(err error, msg string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return Wrap(err, msg)
	}
	return WithKind(Wrap(err, msg), KindIOFailure)
}
