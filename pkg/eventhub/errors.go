package eventhub

import (
	"fmt"
	"time"
)

// Code identifies the stable error kind raised by the core, per the spec's
// error taxonomy (see SPEC_FULL.md section 7).
type Code string

const (
	CodeInvalidState     Code = "INVALID_STATE"
	CodeInvalidConfig    Code = "INVALID_CONFIG"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeQueueFull        Code = "QUEUE_FULL"
	CodeDeliveryFailed   Code = "DELIVERY_FAILED"
	CodeTimeout          Code = "TIMEOUT"
	CodeValidationFailed Code = "VALIDATION_FAILED"
)

// Recovery carries a hint for how a caller might react to an Error.
type Recovery struct {
	CanRetry    bool
	RetryDelay  time.Duration
	MaxRetries  int
	Suggestions []string
}

// Error is the structured error envelope every public eventhub operation
// returns. It is richer than pkg/errors.AppError (it carries Operation,
// Context, and a Recovery hint) but still satisfies error/Unwrap so it
// composes with pkg/errors.Is/As.
type Error struct {
	Code      Code
	Message   string
	Operation string
	Context   map[string]interface{}
	Recovery  Recovery
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (op=%s): %v", e.Code, e.Message, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Operation)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// newError builds an Error with a populated Context timestamp/module.
func newError(code Code, operation, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Operation: operation,
		Context: map[string]interface{}{
			"timestamp": time.Now(),
			"module":    "eventhub",
		},
		Cause: cause,
	}
}

func ErrInvalidState(operation, message string) *Error {
	return newError(CodeInvalidState, operation, message, nil)
}

func ErrInvalidConfig(operation, message string, cause error) *Error {
	return newError(CodeInvalidConfig, operation, message, cause)
}

func ErrNotFound(operation, message string) *Error {
	return newError(CodeNotFound, operation, message, nil)
}

func ErrAlreadyExists(operation, message string) *Error {
	return newError(CodeAlreadyExists, operation, message, nil)
}

func ErrQueueFull(operation, message string) *Error {
	e := newError(CodeQueueFull, operation, message, nil)
	e.Recovery = Recovery{CanRetry: true, RetryDelay: 100 * time.Millisecond, Suggestions: []string{"retry after backoff", "increase MaxSize"}}
	return e
}

func ErrDeliveryFailed(operation, message string, cause error) *Error {
	e := newError(CodeDeliveryFailed, operation, message, cause)
	e.Recovery = Recovery{CanRetry: true}
	return e
}

func ErrTimeout(operation, message string) *Error {
	e := newError(CodeTimeout, operation, message, nil)
	e.Recovery = Recovery{CanRetry: true}
	return e
}

func ErrValidationFailed(operation, message string, cause error) *Error {
	return newError(CodeValidationFailed, operation, message, cause)
}

// ErrInvalid reports a rejected enqueue, e.g. a deduplication collision.
func ErrInvalid(operation, message string) *Error {
	return newError(CodeValidationFailed, operation, message, nil)
}

// Sentinel, well-known errors used across sub-packages for specific named
// conditions the spec calls out (§8 boundary behaviors).
var (
	ErrAlreadyHasConsumer  = ErrInvalidState("Consume", "queue already has an active consumer")
	ErrUnknownConsumer     = ErrNotFound("StopConsuming", "no consumer registered with that id")
	ErrUnknownSubscription = ErrNotFound("Unsubscribe", "no subscription registered with that id")
	ErrNotRunning          = ErrInvalidState("operation", "component is not running")
)
