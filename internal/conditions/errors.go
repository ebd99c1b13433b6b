package conditions

import (
	"context"
	"errors"
	"fmt"
)

// Code is a machine-readable error category.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeDuplicateName      Code = "duplicate_name"
	CodeInvalidPayload     Code = "invalid_payload"
	CodeOverlapViolation   Code = "overlap_violation"
	CodeTimeout            Code = "timeout"
	CodeStorageUnavailable Code = "storage_unavailable"
)

// Error is the domain error returned by every core operation.
type Error struct {
	Code    Code   // Machine-readable category
	Message string // Human-readable detail
	Cause   error  // Wrapped underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Cause.Error()
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is. Match by code only.
var (
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrDuplicateName      = &Error{Code: CodeDuplicateName}
	ErrInvalidPayload     = &Error{Code: CodeInvalidPayload}
	ErrOverlapViolation   = &Error{Code: CodeOverlapViolation}
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrStorageUnavailable = &Error{Code: CodeStorageUnavailable}
)

// Errorf creates a domain error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the domain code carried by err, or "" if err is not a
// domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Classify converts an arbitrary error into a domain error. Domain errors
// pass through unchanged, context expiry becomes CodeTimeout, and anything
// else is treated as the backend being unavailable.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeTimeout, op, err)
	}
	return Wrap(CodeStorageUnavailable, op, err)
}
