// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies every rejection the engine can produce. Kinds are part of
// the wire contract: they are persisted in rejection logs and mapped onto
// transport status codes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindInvalidState
	KindBelowMinimum
	KindCapacityExceeded
	KindConflictingPosition
	KindArithmeticOverflow
	KindAlreadyClaimed
	KindNothingToClaim
	KindExternalServiceFailure
	KindNotFound
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindInvalidState:
		return "InvalidState"
	case KindBelowMinimum:
		return "BelowMinimum"
	case KindCapacityExceeded:
		return "CapacityExceeded"
	case KindConflictingPosition:
		return "ConflictingPosition"
	case KindArithmeticOverflow:
		return "ArithmeticOverflow"
	case KindAlreadyClaimed:
		return "AlreadyClaimed"
	case KindNothingToClaim:
		return "NothingToClaim"
	case KindExternalServiceFailure:
		return "ExternalServiceFailure"
	case KindNotFound:
		return "NotFound"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrBelowMinimum           = &Error{Kind: KindBelowMinimum}
	ErrCapacityExceeded       = &Error{Kind: KindCapacityExceeded}
	ErrConflictingPosition    = &Error{Kind: KindConflictingPosition}
	ErrArithmeticOverflow     = &Error{Kind: KindArithmeticOverflow}
	ErrAlreadyClaimed         = &Error{Kind: KindAlreadyClaimed}
	ErrNothingToClaim         = &Error{Kind: KindNothingToClaim}
	ErrExternalServiceFailure = &Error{Kind: KindExternalServiceFailure}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
)

// Error is a classified rejection. Field names the input or state field whose
// condition failed; Reason is a short human-readable description.
type Error struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, errs.ErrBelowMinimum) holds
// for any BelowMinimum error regardless of field or reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, field, reason string) *Error {
	return &Error{Kind: kind, Field: field, Reason: reason}
}

// Newf builds a classified error with a formatted reason.
func Newf(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, field string, err error) *Error {
	return &Error{Kind: kind, Field: field, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Convenience constructors used throughout the engine.

func Unauthorized(field, reason string) *Error {
	return New(KindUnauthorized, field, reason)
}

func InvalidState(field, reason string) *Error {
	return New(KindInvalidState, field, reason)
}

func BelowMinimum(field string, got, min int64) *Error {
	return Newf(KindBelowMinimum, field, "%d below minimum %d", got, min)
}

func CapacityExceeded(field, reason string) *Error {
	return New(KindCapacityExceeded, field, reason)
}

func Overflow(field string) *Error {
	return New(KindArithmeticOverflow, field, "value does not fit in 64 bits")
}

func NotFound(field, id string) *Error {
	return Newf(KindNotFound, field, "%s not found", id)
}

func InvalidArgument(field, reason string) *Error {
	return New(KindInvalidArgument, field, reason)
}
