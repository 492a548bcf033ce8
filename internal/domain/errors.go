package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a core operation failure.
type ErrorCode string

const (
	ErrNotFound          ErrorCode = "not_found"
	ErrInvalidState      ErrorCode = "invalid_state"
	ErrInvalidArgument   ErrorCode = "invalid_argument"
	ErrCapacityExceeded  ErrorCode = "capacity_exceeded"
	ErrInvalidTransition ErrorCode = "invalid_transition"
	ErrApprovalRequired  ErrorCode = "approval_required"
	ErrNotAssignable     ErrorCode = "not_assignable"
)

// Error is the typed failure every core operation surfaces to its caller.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a coded error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, unwrapping as needed. Errors
// without a code report as empty string.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
