// Package errors provides standardized error handling for the sync
// pipeline. It classifies failures into the taxonomy the queue retry policy
// acts on: transient errors are retried with backoff, invalid errors fail
// the job immediately, fatal errors stop processing.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, configuration,
	// or unsupported operations. Never retried.
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing.
	ErrorFatal
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common pipeline conditions.
var (
	// Connector errors
	ErrConnectorUnhealthy = errors.New("connector health check failed")
	ErrConnectorAuth      = errors.New("connector authentication failed")
	ErrConnectorTimeout   = errors.New("connector call timed out")

	// Stage errors
	ErrUnsupportedEntityType = errors.New("entity type not supported by this integration")
	ErrUnsupportedAction     = errors.New("action not implemented by this stage")
	ErrNormalizationFailed   = errors.New("record normalization failed")

	// Storage errors
	ErrStorageUnavailable = errors.New("document store unavailable")
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateKey       = errors.New("uniqueness invariant violated")

	// Queue errors
	ErrJobNotFound        = errors.New("job not found")
	ErrJobNotProcessing   = errors.New("job not in processing state")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrQueueUnavailable   = errors.New("queue backing store unavailable")

	// Bus errors
	ErrNotConnected       = errors.New("not connected to message bus")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
)

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectorTimeout) ||
		errors.Is(err, ErrConnectorUnhealthy) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrQueueUnavailable) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Known non-retryable conditions take precedence over message matching.
	if IsInvalid(err) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"rate limit",
		"too many requests",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input, configuration, or
// an unsupported operation. Invalid errors fail the job without retry.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrUnsupportedEntityType) ||
		errors.Is(err, ErrUnsupportedAction) ||
		errors.Is(err, ErrNormalizationFailed) ||
		errors.Is(err, ErrConnectorAuth) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrJobNotProcessing) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsFatal checks if an error is fatal and should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrMaxRetriesExceeded)
}

// Classify returns the error class for an error. Unknown errors default to
// transient so the queue gets a chance to retry them.
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Wrap creates a standardized error with context following the pattern
// "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}
