package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Standardized error codes shared by every package in this module.
// Subsystems are free to define their own, more specific codes (see
// pkg/eventhub/errors.go) but should fall back to these when nothing
// more precise applies.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeForbidden       = "FORBIDDEN"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternal        = "INTERNAL"
	CodeTimeout         = "TIMEOUT"
	CodeUnavailable     = "UNAVAILABLE"
)

// AppError is the structured error type used across the module. It carries
// a stable Code a caller can switch on, a human message, and an optional
// Cause for chaining via the standard errors.Is/errors.As machinery.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

// New creates an AppError with an explicit code.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap turns any error into an AppError, preserving the code if the
// underlying error already carries one.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{Code: appErr.Code, Message: message, Cause: err}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

func Unauthorized(message string, cause error) *AppError {
	return New(CodeUnauthorized, message, cause)
}

func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

func Timeout(message string, cause error) *AppError {
	return New(CodeTimeout, message, cause)
}

func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes Cause to the standard errors.Is/errors.As chain.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to a best-effort HTTP status. Subsystems
// that mint their own codes (e.g. "MESSAGING_TOPIC_NOT_FOUND") are matched
// by substring so the mapping still works without a registry.
func (e *AppError) HTTPStatus() int {
	code := e.Code
	switch {
	case strings.Contains(code, "NOT_FOUND"):
		return 404
	case strings.Contains(code, "CONFLICT"), strings.Contains(code, "EXISTS"), strings.Contains(code, "GROUP_CONFLICT"):
		return 409
	case strings.Contains(code, "INVALID"), strings.Contains(code, "VALIDATION"):
		return 400
	case strings.Contains(code, "FORBIDDEN"), strings.Contains(code, "PERMISSION"):
		return 403
	case strings.Contains(code, "UNAUTHORIZED"):
		return 401
	case strings.Contains(code, "TIMEOUT"):
		return 504
	case strings.Contains(code, "FULL"), strings.Contains(code, "UNAVAILABLE"), strings.Contains(code, "CLOSED"):
		return 503
	default:
		return 500
	}
}

// Is delegates to the standard library so callers can keep writing
// errors.Is(err, target) against sentinel AppErrors built with New/Wrap.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As delegates to the standard library, letting callers recover a typed
// *AppError (or any other wrapped type) from an error chain.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
