// Package peverr defines the error kinds shared by every PeerVault
// component, matching the "kinds, not types" propagation policy:
// components handle their own Transient/IntegrityFailure, while
// MalformedInput and Fatal bubble up to PeerManager.
package peverr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/propagation decisions. It is
// intentionally coarse — callers switch on Kind, never on message text.
type Kind string

const (
	// MalformedInput covers invalid tickets, bad frames, and
	// unrecognized schema versions. Reported, never retried.
	MalformedInput Kind = "malformed-input"

	// VersionConflict means a remote peer advertised an
	// incompatible (older) major protocol version. Aborts the session.
	VersionConflict Kind = "version-conflict"

	// IntegrityFailure covers blob hash mismatches and AEAD MAC
	// failures. Locally the item is skipped; over the wire it is
	// negative-acked and retried within a bounded limit.
	IntegrityFailure Kind = "integrity-failure"

	// Transient covers transport disconnects and timeouts. The
	// caller or session retries with backoff.
	Transient Kind = "transient"

	// Cancelled marks cooperative cancellation.
	Cancelled Kind = "cancelled"

	// ResourceExhausted covers storage-full and queue-overflow
	// conditions beyond normal backpressure. Surfaced to the user.
	ResourceExhausted Kind = "resource-exhausted"

	// Fatal marks an invariant violation (e.g. vaultId mismatch on
	// the same local document). The component aborts; no recovery
	// is attempted.
	Fatal Kind = "fatal"
)

// Error wraps an underlying cause with a Kind for dispatch.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func Malformed(format string, args ...any) *Error {
	return newErr(MalformedInput, nil, format, args...)
}

func MalformedWrap(cause error, format string, args ...any) *Error {
	return newErr(MalformedInput, cause, format, args...)
}

func VersionMismatch(format string, args ...any) *Error {
	return newErr(VersionConflict, nil, format, args...)
}

func Integrity(format string, args ...any) *Error {
	return newErr(IntegrityFailure, nil, format, args...)
}

func IntegrityWrap(cause error, format string, args ...any) *Error {
	return newErr(IntegrityFailure, cause, format, args...)
}

func Transientf(format string, args ...any) *Error {
	return newErr(Transient, nil, format, args...)
}

func TransientWrap(cause error, format string, args ...any) *Error {
	return newErr(Transient, cause, format, args...)
}

func Cancel() *Error {
	return newErr(Cancelled, nil, "operation cancelled")
}

func Exhausted(format string, args ...any) *Error {
	return newErr(ResourceExhausted, nil, format, args...)
}

func Fatalf(format string, args ...any) *Error {
	return newErr(Fatal, nil, format, args...)
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// ErrNotFound is returned by StorageAdapter.Read when a key is absent.
var ErrNotFound = errors.New("key not found")
