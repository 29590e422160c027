package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application errors.
type ErrorCode string

const (
	CodeNotFound  ErrorCode = "NOT_FOUND"
	CodeExhausted ErrorCode = "EXHAUSTED"
	CodeInternal  ErrorCode = "INTERNAL_ERROR"
)

// AppError is a coded application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewExhaustedError marks a bounded retry loop that ran out of attempts.
func NewExhaustedError(message string) *AppError {
	return &AppError{Code: CodeExhausted, Message: message}
}

// NewInternalErrorWithCause creates an internal error wrapping its cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}
