// Package errs defines the error taxonomy shared by the point-cloud core.
//
// Every public operation in the codecs, catalog and load manager fails with
// an error carrying exactly one Kind, so callers can classify failures with
// errs.HasKind without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class surfaced by the core.
type Kind string

const (
	IO                             Kind = "io_error"
	FormatInvalidSignature         Kind = "format_invalid_signature"
	FormatUnsupportedVersion       Kind = "format_unsupported_version"
	FormatUnsupportedPDRF          Kind = "format_unsupported_pdrf"
	FormatInconsistentRecordLength Kind = "format_inconsistent_record_length"
	FormatTruncated                Kind = "format_truncated"
	FormatInvalidScale             Kind = "format_invalid_scale"
	FormatInvalid                  Kind = "format_invalid"
	PrototypeMissingXYZ            Kind = "prototype_missing_xyz"
	ScanNotFound                   Kind = "scan_not_found"
	ClusterNotFound                Kind = "cluster_not_found"
	CatalogError                   Kind = "catalog_error"
	MemoryLimitExceeded            Kind = "memory_limit_exceeded"
	Cancelled                      Kind = "cancelled"
	WriteFinalizeFailed            Kind = "write_finalize_failed"
	InvalidArgument                Kind = "invalid_argument"
)

// Error pairs a Kind with a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or the empty Kind when err carries no taxonomy information.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Kind("")
}

// HasKind reports whether any error in err's chain carries the given kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
