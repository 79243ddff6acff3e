// Package fault defines the error taxonomy for the codec and the property
// collector protocol.
//
// Sentinels classify failures; *Error wraps an underlying cause with its
// classification so callers use errors.Is / errors.As rather than string
// matching.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors. Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrUnknownType indicates a wire type name the resolver cannot map.
	ErrUnknownType = errors.New("unknown type")

	// ErrInvalidEnumValue indicates text that is not a constant of the enum.
	ErrInvalidEnumValue = errors.New("invalid enum value")

	// ErrInvalidPropertyPath indicates a malformed or non-existent property path.
	ErrInvalidPropertyPath = errors.New("invalid property path")

	// ErrStaleVersion indicates a poll version no longer retained by the collector.
	ErrStaleVersion = errors.New("stale collector version")

	// ErrCanceled indicates an outstanding wait was explicitly canceled.
	ErrCanceled = errors.New("wait canceled")

	// ErrTransportFault indicates the underlying remote call failed.
	ErrTransportFault = errors.New("transport fault")

	// ErrMalformedDocument indicates a structurally invalid element tree.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrFilterDestroyed indicates use of a filter after destruction.
	ErrFilterDestroyed = errors.New("filter destroyed")

	// ErrNotFound indicates an unknown managed object.
	ErrNotFound = errors.New("managed object not found")
)

// Error wraps an underlying error with its classification.
// The original cause stays in the chain for errors.As.
type Error struct {
	// Kind is the sentinel for classification (e.g. ErrStaleVersion).
	Kind error
	// Op is the operation that failed (e.g. "decode", "waitForUpdates").
	Op string
	// Detail names the offending input, if any (type name, path, version).
	Detail string
	// Err is the underlying cause, may be nil.
	Err error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Detail != "" {
		msg += " " + fmt.Sprintf("%q", e.Detail)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// New creates a classified error without a cause.
func New(kind error, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap creates a classified error around cause. Returns nil if cause is nil.
func Wrap(kind error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Transport wraps a remote call failure, preserving the cause.
// Context cancellation is reported as ErrCanceled instead.
func Transport(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var fe *Error
	if errors.As(cause, &fe) {
		return cause
	}
	if errors.Is(cause, context.Canceled) {
		return &Error{Kind: ErrCanceled, Op: op, Err: cause}
	}
	return &Error{Kind: ErrTransportFault, Op: op, Err: cause}
}

// IsTemporary reports whether err is a transport fault worth retrying:
// its cause reports Temporary() or Timeout(), or is a network operation error.
// Codec, path, version and cancellation errors are never temporary.
func IsTemporary(err error) bool {
	if err == nil || !errors.Is(err, ErrTransportFault) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Temporary marks cause as a transient transport fault.
func Temporary(op string, cause error) error {
	return &Error{Kind: ErrTransportFault, Op: op, Err: temporaryError{cause}}
}

type temporaryError struct{ err error }

func (t temporaryError) Error() string   { return t.err.Error() }
func (t temporaryError) Unwrap() error   { return t.err }
func (t temporaryError) Temporary() bool { return true }

// codes are stable names for the sentinels, used by the journal and the
// webhook payload.
var codes = []struct {
	code string
	kind error
}{
	{"unknown_type", ErrUnknownType},
	{"invalid_enum_value", ErrInvalidEnumValue},
	{"invalid_property_path", ErrInvalidPropertyPath},
	{"stale_version", ErrStaleVersion},
	{"canceled", ErrCanceled},
	{"transport", ErrTransportFault},
	{"malformed_document", ErrMalformedDocument},
	{"filter_destroyed", ErrFilterDestroyed},
	{"not_found", ErrNotFound},
}

// Code returns the stable name of the sentinel err matches, "transport_temporary"
// for temporary transport faults, or "unknown" when none matches.
func Code(err error) string {
	if IsTemporary(err) {
		return "transport_temporary"
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "unknown"
}

// FromCode rebuilds a classified error from a Code result.
// Unknown codes yield an unclassified error carrying detail.
func FromCode(code, op, detail string) error {
	if code == "transport_temporary" {
		return Temporary(op, errors.New(detail))
	}
	for _, c := range codes {
		if c.code == code {
			return New(c.kind, op, detail)
		}
	}
	return fmt.Errorf("%s: %s", op, detail)
}
