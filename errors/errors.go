// Package errors provides standardized error handling patterns for connkit.
// It includes error classification, the connection error taxonomy, standard
// error variables, and helper functions for consistent error wrapping across
// the library.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
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

// Code identifies a condition in the connection error taxonomy. Codes give
// callers a stable programmatic contract independent of message text: the
// lifecycle absorbs transient codes by reconnecting, per-call codes surface
// only on the affected request, and fatal codes park the handle.
type Code int

const (
	// CodeUnknown is the zero value for errors outside the taxonomy
	CodeUnknown Code = iota
	// CodeConfigInvalid marks malformed configuration; nothing was allocated
	CodeConfigInvalid
	// CodeConnectFailed marks a failed dial or handshake attempt
	CodeConnectFailed
	// CodeConnectionLost marks an established connection dropping mid-flight
	CodeConnectionLost
	// CodeHeartbeatTimeout marks a missed liveness probe
	CodeHeartbeatTimeout
	// CodeRequestTimeout marks a single call exceeding its deadline
	CodeRequestTimeout
	// CodeBackpressure marks a send queue at capacity while disconnected
	CodeBackpressure
	// CodePoolExhausted marks no session becoming available within the acquire deadline
	CodePoolExhausted
	// CodeCancelled marks a call abandoned because its handle closed underneath it
	CodeCancelled
	// CodeRetryBudgetExhausted marks a channel that used up its reconnect attempts
	CodeRetryBudgetExhausted
)

// String returns the string representation of Code
func (c Code) String() string {
	switch c {
	case CodeConfigInvalid:
		return "config_invalid"
	case CodeConnectFailed:
		return "connect_failed"
	case CodeConnectionLost:
		return "connection_lost"
	case CodeHeartbeatTimeout:
		return "heartbeat_timeout"
	case CodeRequestTimeout:
		return "request_timeout"
	case CodeBackpressure:
		return "backpressure"
	case CodePoolExhausted:
		return "pool_exhausted"
	case CodeCancelled:
		return "cancelled"
	case CodeRetryBudgetExhausted:
		return "retry_budget_exhausted"
	default:
		return "unknown"
	}
}

// Class returns the ErrorClass a taxonomy code belongs to. Transient codes
// are safe to retry, invalid codes indicate caller mistakes, and fatal codes
// mean the handle will not recover on its own.
func (c Code) Class() ErrorClass {
	switch c {
	case CodeConfigInvalid:
		return ErrorInvalid
	case CodeCancelled, CodeRetryBudgetExhausted:
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// Standard error variables for common conditions
var (
	// Taxonomy sentinels, one per Code
	ErrConfigInvalid        = errors.New("invalid connection config")
	ErrConnectFailed        = errors.New("connect failed")
	ErrConnectionLost       = errors.New("connection lost")
	ErrHeartbeatTimeout     = errors.New("heartbeat timeout")
	ErrRequestTimeout       = errors.New("request timeout")
	ErrBackpressure         = errors.New("send queue full")
	ErrPoolExhausted        = errors.New("session pool exhausted")
	ErrCancelled            = errors.New("request cancelled")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// Registry and handle errors
	ErrNotFound  = errors.New("connection not found")
	ErrClosed    = errors.New("connection closed")
	ErrNotDuplex = errors.New("connection has no duplex channel")
)

// codeSentinels maps each taxonomy code to its sentinel for CodeOf lookups.
var codeSentinels = map[Code]error{
	CodeConfigInvalid:        ErrConfigInvalid,
	CodeConnectFailed:        ErrConnectFailed,
	CodeConnectionLost:       ErrConnectionLost,
	CodeHeartbeatTimeout:     ErrHeartbeatTimeout,
	CodeRequestTimeout:       ErrRequestTimeout,
	CodeBackpressure:         ErrBackpressure,
	CodePoolExhausted:        ErrPoolExhausted,
	CodeCancelled:            ErrCancelled,
	CodeRetryBudgetExhausted: ErrRetryBudgetExhausted,
}

// ClassifiedError wraps an error with its classification and taxonomy code
type ClassifiedError struct {
	Class     ErrorClass
	Code      Code
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Check for known transient errors
	if errors.Is(err, ErrConnectFailed) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrHeartbeatTimeout) ||
		errors.Is(err, ErrRequestTimeout) ||
		errors.Is(err, ErrBackpressure) ||
		errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check error message for common transient patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporary",
		"unavailable",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal for its handle
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	// Check for known fatal errors
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrRetryBudgetExhausted) ||
		errors.Is(err, ErrClosed)
}

// IsInvalid checks if an error is due to invalid input or configuration
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrConfigInvalid) ||
		errors.Is(err, ErrNotDuplex)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// CodeOf extracts the taxonomy code from an error chain. Returns CodeUnknown
// when the error carries no code and matches no taxonomy sentinel.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Code != CodeUnknown {
		return ce.Code
	}

	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// newClassified creates a new classified error
// This is an internal helper - use the Wrap family instead.
func newClassified(class ErrorClass, code Code, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Code:      code,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, CodeOf(err), wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, CodeOf(err), wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, CodeOf(err), wrappedErr, component, method, wrappedErr.Error())
}

// WrapCode wraps an error with a taxonomy code and its implied class. When
// err is nil the code's sentinel becomes the underlying error, so errors.Is
// against the sentinel keeps working on the result.
func WrapCode(err error, code Code, component, method, action string) error {
	if err == nil {
		err = codeSentinels[code]
		if err == nil {
			return nil
		}
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(code.Class(), code, wrappedErr, component, method, wrappedErr.Error())
}
