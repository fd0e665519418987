package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
// Validation and NotFound are surfaced to the caller and never retried.
// Provisioning and Transient are retried by whoever triggered the work.
// Fatal marks input that cannot be retried productively (dead-letter path).
type Kind int

const (
	Unknown Kind = iota
	Validation
	NotFound
	Provisioning
	Transient
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Provisioning:
		return "provisioning"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind. Passing a nil err returns nil.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf is E with fmt.Errorf formatting.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or Unknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
