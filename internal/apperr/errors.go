// internal/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a core failure so handlers can map it to a transport
// status without parsing message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingField
	KindInvalidValue
	KindInvariant
	KindIllegalTransition
	KindNotFound
	KindConflict
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindMissingField:
		return "missing_required_field"
	case KindInvalidValue:
		return "range_or_format_invalid"
	case KindInvariant:
		return "invariant_violation"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func MissingField(field string) error {
	return &Error{Kind: KindMissingField, Message: field + " is required"}
}

func InvalidValue(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidValue, Message: fmt.Sprintf(format, args...)}
}

func Invariant(format string, args ...interface{}) error {
	return &Error{Kind: KindInvariant, Message: fmt.Sprintf(format, args...)}
}

func IllegalTransition(format string, args ...interface{}) error {
	return &Error{Kind: KindIllegalTransition, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource string) error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Persistence(message string, err error) error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

// KindOf returns the classification of err, or KindUnknown for errors that
// did not originate in the core validation path.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
