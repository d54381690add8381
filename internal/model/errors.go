package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an operation failure.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// Error is the tagged failure returned by every service operation.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		msg += ": " + strings.Join(e.Fields, ", ")
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorized reports that the actor may not perform the operation.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// Invalid reports structurally invalid input. fields names the offending inputs.
func Invalid(msg string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	if id == "" {
		return &Error{Kind: KindNotFound, Message: entity + " not found"}
	}
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict reports a uniqueness violation.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Internal wraps an infrastructure failure. The cause is kept for logging only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "service temporarily unavailable, please retry", Err: err}
}

// KindOf returns the kind of err, treating foreign errors as internal.
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

// Storage-level sentinels. Repositories return these and the service layer
// translates them into tagged errors.
var (
	ErrDuplicateEmail       = errors.New("duplicate email")
	ErrDuplicateSessionName = errors.New("duplicate session name")
	ErrUnknownVolunteer     = errors.New("unknown volunteer")
)
