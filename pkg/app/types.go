package app

import (
	"fmt"
)

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error

	// Hint is remediation advice printed after the error
	Hint string
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeUsage   = "USAGE"
	ErrCodeOpen    = "OPEN"
	ErrCodeMounted = "MOUNTED"
	ErrCodeFatal   = "FATAL"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithHint attaches remediation advice
func (e *CommonError) WithHint(hint string) *CommonError {
	e.Hint = hint
	return e
}
