// Package apperr defines the typed errors surfaced to API callers.
//
// Every rejection the core produces carries a stable Code (for clients) and an
// HTTP status (for the api layer). Messages are human-readable and safe to show
// to operators.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on Code so wrapped clones of a sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

var (
	ErrValidation      = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrPastTime        = New("PAST_TIME", http.StatusBadRequest, "scheduled time must be in the future")
	ErrHorizonExceeded = New("HORIZON_EXCEEDED", http.StatusBadRequest, "scheduled time is too far ahead (max ~24 days)")
	ErrChannelNotFound = New("CHANNEL_NOT_FOUND", http.StatusBadGateway, "channel not found")
	ErrChannelNotText  = New("CHANNEL_NOT_TEXT", http.StatusBadGateway, "channel is not a text channel")
	ErrDelivery        = New("DELIVERY_FAILED", http.StatusBadGateway, "message delivery failed")
	ErrNotFound        = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized    = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden       = New("FORBIDDEN", http.StatusForbidden, "author lacks the required role")
	ErrInternal        = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of err with message overridden when non-empty.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// ByCode returns the predefined error for code, or ErrInternal.
func ByCode(code string) *Error {
	for _, e := range []*Error{
		ErrValidation, ErrPastTime, ErrHorizonExceeded, ErrChannelNotFound,
		ErrChannelNotText, ErrDelivery, ErrNotFound, ErrUnauthorized,
	} {
		if e.Code == code {
			return e
		}
	}
	return ErrInternal
}
