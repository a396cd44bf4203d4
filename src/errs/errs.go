// Package errs holds the closed set of failure kinds the analysis core can
// surface. Mapping a kind to a transport status is left to the caller.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig: missing or invalid backend selection, credential or model.
	KindConfig
	// KindImageProcessing: empty, oversized, malformed or unprocessable image.
	KindImageProcessing
	// KindInvalidCredentials: the backend rejected authentication.
	KindInvalidCredentials
	// KindProvider: transport failure, timeout, quota or any other backend error.
	KindProvider
	// KindAI: the model answered with well-formed but unusable content.
	KindAI
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config_error"
	case KindImageProcessing:
		return "image_processing_error"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindProvider:
		return "provider_error"
	case KindAI:
		return "ai_error"
	default:
		return "unknown"
	}
}

// Error is the only error type returned across package boundaries.
type Error struct {
	Kind Kind
	Op   string // e.g. "openai.analyze", "imaging.govern"
	Msg  string
	Err  error
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrConfig             = &Error{Kind: KindConfig}
	ErrImageProcessing    = &Error{Kind: KindImageProcessing}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrProvider           = &Error{Kind: KindProvider}
	ErrAI                 = &Error{Kind: KindAI}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the bare sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// New builds an error of the given kind with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and op to cause. A cause that already carries a kind is
// returned unchanged so lower layers keep their classification.
func Wrap(kind Kind, op string, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Config(op, format string, args ...any) *Error {
	return New(KindConfig, op, format, args...)
}

func Image(op, format string, args ...any) *Error {
	return New(KindImageProcessing, op, format, args...)
}

func AI(op, format string, args ...any) *Error {
	return New(KindAI, op, format, args...)
}

func Credentials(op, format string, args ...any) *Error {
	return New(KindInvalidCredentials, op, format, args...)
}

func Provider(op, format string, args ...any) *Error {
	return New(KindProvider, op, format, args...)
}
