// Package ejerr defines the structured error taxonomy returned across the
// engine boundary. Every call into the database returns either a success
// value or one of these errors; the library never panics across its public
// API. Each error carries a stable Code for programmatic handling plus
// human-readable context, so a caller (or the HTTP gateway) can map a
// failure to the right recovery action without parsing a message string.
package ejerr

import (
	"errors"
	"fmt"
)

// Code categorizes a failure so callers can branch on it without parsing
// a message string. Each operation documents which codes it can return.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	AlreadyExists      Code = "already_exists"
	UniqueViolation    Code = "unique_violation"
	IOError            Code = "io_error"
	Corruption         Code = "corruption"
	Unsupported        Code = "unsupported"
	OutOfRange         Code = "out_of_range"
	Canceled           Code = "canceled"
	TransactionConflict Code = "transaction_conflict"
	QuotaExceeded      Code = "quota_exceeded"
	InvalidQuery       Code = "invalid_query"
)

// Error is the concrete error type returned by the engine. It wraps an
// optional underlying cause (a syscall error, a codec error, ...) and
// carries a code plus a lazily allocated detail map for structured context
// (collection name, field path, byte offset, and so on).
type Error struct {
	code    Code
	message string
	cause   error
	details map[string]any
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap creates an Error that wraps an underlying cause. The new Error
// always carries code, even when err is itself an *Error with another code.
func Wrap(err error, code Code, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithDetail attaches structured context and returns the receiver for
// chaining at the point of construction.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap enables errors.Is/errors.As over the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the error's category.
func (e *Error) Code() Code {
	return e.code
}

// Details returns the structured context attached to the error, if any.
func (e *Error) Details() map[string]any {
	return e.details
}

// Is reports whether the first *Error in err's chain (the one GetCode
// reads) carries the given code; codes of deeper wrapped *Errors are not
// examined.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}

// GetCode extracts the Code from err, defaulting to Unsupported for errors
// that don't carry one. Used by the HTTP gateway to pick a status code and
// by logging call sites that want a stable category without a type switch.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return Unsupported
}
