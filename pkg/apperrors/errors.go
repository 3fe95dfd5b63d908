package apperrors

import (
	"errors"
	"fmt"
)

// Kind is the stable, caller-visible category of an error.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation_error"
	KindReferential     Kind = "referential_error"
	KindExternalService Kind = "external_service_error"
	KindPersistence     Kind = "persistence_error"
	KindOverloaded      Kind = "overloaded"
	KindInternal        Kind = "internal_error"
)

var (
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrReferential     = &Error{Kind: KindReferential, Message: "referential integrity violation"}
	ErrExternalService = &Error{Kind: KindExternalService, Message: "external service failed"}
	ErrPersistence     = &Error{Kind: KindPersistence, Message: "persistence failed"}
	ErrOverloaded      = &Error{Kind: KindOverloaded, Message: "executor queue is full"}
)

// Error carries a Kind alongside a human-readable message and an optional cause.
// errors.Is matches any two *Error values of the same Kind, so callers can test
// against the sentinels above.
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

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports that a referenced entity does not exist.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// Validation reports a malformed or missing field.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// Referential reports a write that would break a cross-entity invariant.
func Referential(format string, args ...any) *Error {
	return newError(KindReferential, nil, format, args...)
}

func ExternalService(err error, format string, args ...any) *Error {
	return newError(KindExternalService, err, format, args...)
}

func Persistence(err error, format string, args ...any) *Error {
	return newError(KindPersistence, err, format, args...)
}

func Overloaded(format string, args ...any) *Error {
	return newError(KindOverloaded, nil, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the message of the first *Error in err's chain, falling back to err.Error().
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
