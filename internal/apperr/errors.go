// Package apperr defines the error taxonomy shared across the knowledge hub
// and the mapping from that taxonomy to HTTP status codes and the uniform
// JSON envelope described in spec §6-§7.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is the semantic error class carried by every business error.
type Class string

const (
	ClassValidation    Class = "VALIDATION"
	ClassAuthN         Class = "AUTHN"
	ClassAuthZ         Class = "AUTHZ"
	ClassNotFound      Class = "NOT_FOUND"
	ClassConflict      Class = "CONFLICT"
	ClassRateLimited   Class = "RATE_LIMITED"
	ClassUpstream      Class = "UPSTREAM"
	ClassMemoryPressure Class = "MEMORY_PRESSURE"
)

// Error is a classified application error. Handlers map it to the uniform
// envelope {code, message, data:null}; anything that is not an *Error is
// treated as an unexpected infrastructure failure and reduced to a generic
// 500 before it reaches the client (spec §7).
type Error struct {
	Class   Class
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(class Class, msg string, err error) *Error {
	return &Error{Class: class, Message: msg, Err: err}
}

func Validation(msg string) *Error        { return new_(ClassValidation, msg, nil) }
func Validationf(f string, a ...any) *Error { return new_(ClassValidation, fmt.Sprintf(f, a...), nil) }
func AuthN(msg string) *Error              { return new_(ClassAuthN, msg, nil) }
func AuthZ(msg string) *Error              { return new_(ClassAuthZ, msg, nil) }
func NotFound(msg string) *Error           { return new_(ClassNotFound, msg, nil) }
func Conflict(msg string) *Error           { return new_(ClassConflict, msg, nil) }
func RateLimited(msg string) *Error        { return new_(ClassRateLimited, msg, nil) }
func Upstream(msg string, err error) *Error { return new_(ClassUpstream, msg, err) }
func MemoryPressure(msg string) *Error     { return new_(ClassMemoryPressure, msg, nil) }

// HTTPStatus returns the status code mirroring an error's semantic class.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		switch e.Class {
		case ClassValidation:
			return http.StatusBadRequest
		case ClassAuthN:
			return http.StatusUnauthorized
		case ClassAuthZ:
			return http.StatusForbidden
		case ClassNotFound:
			return http.StatusNotFound
		case ClassConflict:
			return http.StatusConflict
		case ClassRateLimited:
			return http.StatusTooManyRequests
		case ClassUpstream, ClassMemoryPressure:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing message for an error: the business
// message for classified errors, a generic message for anything else so
// infrastructure errors never leak stack traces or internals to the client.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class Class) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == class
}
