// Package apperr classifies domain failures so transport layers can map them
// without knowing every sentinel.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind is the failure class of an Error.
type Kind uint8

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindValidation marks malformed or missing input. Never retried.
	KindValidation
	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound
	// KindConflict marks an illegal state transition or a lost race.
	KindConflict
	// KindPayment marks a capture or verification failure.
	KindPayment
	// KindDependency marks an unreachable collaborator (storage, gateway, broker).
	KindDependency
	// KindUnauthorized marks missing or invalid credentials.
	KindUnauthorized
	// KindForbidden marks a caller whose role may not perform the action.
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPayment:
		return "payment"
	case KindDependency:
		return "dependency"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is a classified domain error. Sentinels are package-level *Error
// values compared with errors.Is; wrapped causes are reachable via Unwrap.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New returns a classified sentinel.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by identity and, for wrapped copies produced by With,
// by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.Code == t.Code && e.Kind == t.Kind)
}

// With returns a copy of the sentinel carrying cause.
func (e *Error) With(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// Dependency wraps err as a KindDependency error describing op.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	// Already classified errors keep their class.
	var ae *Error
	if errors.As(err, &ae) {
		return errors.Wrap(err, op)
	}
	return &Error{Kind: KindDependency, Code: "dependency_unavailable", Message: op, Err: err}
}

// KindOf reports the classification of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal"
}
