// Package errors carries the module's coded error model. Every error
// that crosses a package boundary is tagged with an ErrorCode so
// callers can branch on the failure class (cancellation, open circuit,
// probe fault) without string matching.
package errors

import "errors"

// Re-exported standard helpers so callers never need a second errors
// import alongside this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// ErrorCode identifies a failure class. Codes are stable strings,
// suitable for logs and telemetry.
type ErrorCode string

// Error is a coded error. The With* methods return derived copies;
// an Error value is never mutated in place.
type Error interface {
	error

	// Code returns the failure class.
	Code() ErrorCode

	// Unwrap exposes the underlying cause, if any.
	Unwrap() error

	// GetData returns the diagnostic payload attached via WithData.
	GetData() any

	// WithMessage derives a copy carrying a custom message.
	WithMessage(msg string) Error

	// WithData derives a copy carrying a diagnostic payload.
	WithData(data any) Error
}

// Factory builds coded errors. Packages typically create one at the
// top of a function and mint errors through it.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
