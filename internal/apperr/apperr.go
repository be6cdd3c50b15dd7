// Package apperr defines the error kinds used across reminderbot.
//
// Whether an error aborts the process is a property of its Kind, not of the
// place it was raised: callers ask IsFatal(err) instead of guessing.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	// KindConfigMissing: a required setting is absent (fatal).
	KindConfigMissing Kind = "config_missing"
	// KindConfigEmpty: a required list is empty after parsing (fatal).
	KindConfigEmpty Kind = "config_empty"
	// KindConfigInvalid: a setting is present but unusable (fatal).
	KindConfigInvalid Kind = "config_invalid"
	// KindSessionFailed: the platform client could not be created (fatal).
	KindSessionFailed Kind = "session_failed"
	// KindRecipientParseSkipped: one malformed recipient token was dropped (recoverable).
	KindRecipientParseSkipped Kind = "recipient_parse_skipped"
	// KindDeliveryFailed: one recipient's send failed (recoverable).
	KindDeliveryFailed Kind = "delivery_failed"
)

// Fatal reports whether errors of this kind must abort the process.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfigMissing, KindConfigEmpty, KindConfigInvalid, KindSessionFailed:
		return true
	default:
		return false
	}
}

// Error is a structured error with a kind, the failing operation and optional context.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// With adds a context key/value pair and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether err carries a fatal kind.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}
