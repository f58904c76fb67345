package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindUnauthenticated   Kind = "unauthenticated"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindEventInactive     Kind = "event_inactive"
	KindEventPast         Kind = "event_past"
	KindBusy              Kind = "busy"
	KindDeliveryExhausted Kind = "delivery_exhausted"
	KindInternal          Kind = "internal_error"
)

// Error is the only error type handed out past the coordinator boundary.
// Code narrows Kind for callers that need it (e.g. conflict -> not_registered).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so callers can compare against the exported values below
// without caring about the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Internal hides a storage/transport error behind a generic internal error.
func Internal(err error, message string) *Error {
	return Wrap(err, KindInternal, string(KindInternal), message)
}

var (
	ErrInvalidInput      = New(KindValidation, "invalid_request", "malformed input")
	ErrUnauthenticated   = New(KindUnauthenticated, "unauthenticated", "missing identity")
	ErrNotOrganizer      = New(KindUnauthorized, "not_organizer", "only the organizer can do this")
	ErrEventNotFound     = New(KindNotFound, "event_not_found", "event not found")
	ErrAlreadyRegistered = New(KindConflict, "already_registered", "user is already registered for this event")
	ErrNotRegistered     = New(KindConflict, "not_registered", "user is not registered for this event")
	ErrCapacityExceeded  = New(KindCapacityExceeded, "capacity_exceeded", "event is at full capacity")
	ErrEventInactive     = New(KindEventInactive, "event_inactive", "event is not active")
	ErrEventPast         = New(KindEventPast, "event_past", "cannot register for past events")
	ErrBusy              = New(KindBusy, "busy", "event is busy, retry shortly")
	ErrDeliveryExhausted = New(KindDeliveryExhausted, "delivery_exhausted", "notification delivery attempts exhausted")
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err, or the internal code.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return string(KindInternal)
}

// Retryable reports whether the caller may retry the same input unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindBusy
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindCapacityExceeded:
		return http.StatusConflict
	case KindEventInactive, KindEventPast:
		return http.StatusUnprocessableEntity
	case KindBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
