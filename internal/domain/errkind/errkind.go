// Package errkind defines the error taxonomy surfaced to callers of the
// attestation API. Every failure that leaves the core carries exactly one Code.
package errkind

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, caller-visible error identifier.
type Code string

// Error codes.
const (
	Unauthorized           Code = "UNAUTHORIZED"
	InvalidJSON            Code = "INVALID_JSON"
	MissingRequiredField   Code = "MISSING_REQUIRED_FIELD"
	SchemaValidationFailed Code = "SCHEMA_VALIDATION_FAILED"
	InvalidTimestamp       Code = "INVALID_TIMESTAMP"
	PayloadTooLarge        Code = "PAYLOAD_TOO_LARGE"
	RateLimited            Code = "RATE_LIMITED"
	NotFound               Code = "NOT_FOUND"
	Internal               Code = "INTERNAL_ERROR"
)

// Status returns the HTTP status paired with the code.
func (c Code) Status() int {
	switch c {
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidJSON, MissingRequiredField, SchemaValidationFailed, InvalidTimestamp:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case RateLimited:
		return http.StatusTooManyRequests
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to callers;
// Err holds the underlying cause and is never rendered to them.
type Error struct {
	Op      string
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a caller-facing message.
func New(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. Internal errors get a generic message so causes
// do not leak to callers.
func Wrap(op string, code Code, err error) *Error {
	msg := ""
	if code == Internal {
		msg = "internal error"
	} else if err != nil {
		msg = err.Error()
	}
	return &Error{Op: op, Code: code, Message: msg, Err: err}
}

// CodeOf extracts the Code carried by err. Unclassified errors are Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != Internal && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
