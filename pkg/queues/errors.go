package queues

import (
	"context"
	"errors"

	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
)

// Queue errors.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMessageNotFound    = errors.New("message not found")
	ErrQueueClosed        = errors.New("queue is closed")
	ErrInvalidMessage     = errors.New("invalid message")
)

// ErrorCategory categorizes processing errors for retry decisions.
type ErrorCategory string

const (
	// ErrorCategoryTransient indicates a temporary error that should be retried.
	ErrorCategoryTransient ErrorCategory = "transient"
	// ErrorCategoryPermanent indicates an error that will not be resolved by retry.
	ErrorCategoryPermanent ErrorCategory = "permanent"
	// ErrorCategoryDependency indicates an external dependency failure.
	ErrorCategoryDependency ErrorCategory = "dependency"
)

// ProcessingError wraps errors with category information.
type ProcessingError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should trigger a retry.
func (e *ProcessingError) IsRetryable() bool {
	return e.Category == ErrorCategoryTransient || e.Category == ErrorCategoryDependency
}

// NewTransientError creates a new transient error.
func NewTransientError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryTransient, Code: code, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryPermanent, Code: code, Message: message, Err: err}
}

// NewDependencyError creates a new dependency error.
func NewDependencyError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryDependency, Code: code, Message: message, Err: err}
}

// Common error codes.
const (
	ErrorCodeTimeout        = "TIMEOUT"
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodePatternLoad    = "PATTERN_LOAD_ERROR"
	ErrorCodeParseError     = "PARSE_ERROR"
	ErrorCodeInternal       = "INTERNAL_ERROR"
)

// Classify converts a batch audit error into a ProcessingError. Malformed
// requests are permanent; timeouts are transient; anything else is
// treated as a failing dependency such as the pattern store.
func Classify(err error) *ProcessingError {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case auerrors.IsValidation(err):
		return NewPermanentError(ErrorCodeInvalidRequest, "invalid audit request", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransientError(ErrorCodeTimeout, "audit timed out", err)
	case errors.Is(err, context.Canceled):
		return NewTransientError(ErrorCodeTimeout, "audit cancelled", err)
	default:
		return NewDependencyError(ErrorCodePatternLoad, "audit dependency failed", err)
	}
}
