// Package errors provides structured error handling for querywatch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: configuration errors
//   - 2XX: store / IO errors
//   - 4XX: validation errors
//   - 5XX: internal errors
package errors

import (
	"fmt"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Store / IO errors (200-299)
	ErrCodeStoreFatal   = "ERR_201_STORE_FATAL"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeReadOnly     = "ERR_203_READ_ONLY"
	ErrCodeClosed       = "ERR_204_CLOSED"
	ErrCodeLocked       = "ERR_205_INDEX_LOCKED"

	// Validation errors (400-499)
	ErrCodeSerialization = "ERR_401_SERIALIZATION"
	ErrCodeInvalidQuery  = "ERR_402_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// retryableCodes lists codes for which the triggering operation may be
// retried by the caller.
var retryableCodes = map[string]bool{
	ErrCodeStoreFatal: true,
}

// Error is the structured error type for querywatch.
type Error struct {
	// Code is the unique error code (e.g. "ERR_401_SERIALIZATION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the failed operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is with code sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new Error with the given code and message. The retryable
// flag is derived from the code.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retryableCodes[code],
	}
}

// Wrap creates an Error from an existing error, using its message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for use with errors.Is.
var (
	// ErrSerialization indicates a query could not be (de)serialized.
	ErrSerialization = New(ErrCodeSerialization, "query serialization failed", nil)

	// ErrStoreFatal indicates a commit or flush I/O failure.
	ErrStoreFatal = New(ErrCodeStoreFatal, "query store commit failed", nil)

	// ErrReadOnly indicates a write attempted on a read-only monitor.
	ErrReadOnly = New(ErrCodeReadOnly, "monitor is read-only", nil)

	// ErrClosed indicates use after Close.
	ErrClosed = New(ErrCodeClosed, "monitor is closed", nil)
)

// GetCode extracts the error code from an Error, or "" if not an Error.
func GetCode(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the error is a retryable Error.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
