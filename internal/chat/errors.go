package chat

import (
	"errors"
	"fmt"
)

// Error kinds. The transport maps these to a single failure response on the
// originating connection.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidInvite   = errors.New("invalid invite code")
	ErrExhausted       = errors.New("invite code space exhausted")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error carries a kind together with a reason that can be shown to the user
// as is.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Reason returns the user-facing reason carried by err, or fallback when err
// is not a domain error (store failures, for instance).
func Reason(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return fallback
}
