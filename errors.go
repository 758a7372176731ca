package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrorTypeValidation indicates a malformed request or definition.
	// Validation errors are rejected before any execution state is created
	// and are never retried.
	ErrorTypeValidation = "validation"

	// ErrorTypeNotFound indicates an unknown process or execution ID.
	ErrorTypeNotFound = "not_found"

	// ErrorTypeStepExecution indicates a handler or HTTP failure. These are
	// recorded per-step and are non-fatal to the overall run.
	ErrorTypeStepExecution = "step_execution"

	// ErrorTypeUnsupportedStepType indicates a step type with no registered
	// handler. This is fatal and aborts the whole execution.
	ErrorTypeUnsupportedStepType = "unsupported_step_type"

	// ErrorTypeCancellation is raised when cancelling an execution that has
	// already reached a terminal status.
	ErrorTypeCancellation = "cancellation"

	// ErrorTypeTimeout matches a timeout or deadline exceeded error.
	ErrorTypeTimeout = "timeout"
)

// ProcessError represents a structured error with classification.
// It supports Go's error wrapping patterns with Unwrap() method.
type ProcessError struct {
	Type    string      `json:"type"`
	Cause   string      `json:"cause"`
	Details interface{} `json:"details,omitempty"`
	Wrapped error       `json:"-"` // Original error being wrapped
}

// Error implements the error interface
func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *ProcessError) Unwrap() error {
	return e.Wrapped
}

// NewProcessError creates a new ProcessError with the specified type and cause.
func NewProcessError(errorType, cause string) *ProcessError {
	return &ProcessError{Type: errorType, Cause: cause}
}

// NewValidationError creates a validation error from a format string.
func NewValidationError(format string, args ...any) *ProcessError {
	return &ProcessError{Type: ErrorTypeValidation, Cause: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error from a format string.
func NewNotFoundError(format string, args ...any) *ProcessError {
	return &ProcessError{Type: ErrorTypeNotFound, Cause: fmt.Sprintf(format, args...)}
}

// NewStepExecutionError creates a step execution error wrapping the given cause.
func NewStepExecutionError(stepID string, err error) *ProcessError {
	return &ProcessError{
		Type:    ErrorTypeStepExecution,
		Cause:   fmt.Sprintf("step %q: %s", stepID, err.Error()),
		Wrapped: err,
	}
}

// NewUnsupportedStepTypeError creates the fatal error for an unrecognized step type.
func NewUnsupportedStepTypeError(stepID string, stepType StepType) *ProcessError {
	return &ProcessError{
		Type:  ErrorTypeUnsupportedStepType,
		Cause: fmt.Sprintf("step %q has unsupported type %q", stepID, stepType),
	}
}

// ClassifyError attempts to classify a regular error into a ProcessError
func ClassifyError(err error) *ProcessError {
	// If the error is already a ProcessError, return it
	var processError *ProcessError
	if errors.As(err, &processError) {
		return processError
	}
	// Check for timeout patterns
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return &ProcessError{
			Type:    ErrorTypeTimeout,
			Cause:   err.Error(),
			Wrapped: err,
		}
	}
	// Default to a step execution error
	return &ProcessError{
		Type:    ErrorTypeStepExecution,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsValidationError reports whether err classifies as a validation error.
func IsValidationError(err error) bool {
	return ClassifyError(err).Type == ErrorTypeValidation
}

// IsNotFoundError reports whether err classifies as a not-found error.
func IsNotFoundError(err error) bool {
	return ClassifyError(err).Type == ErrorTypeNotFound
}

// IsFatalStepError reports whether err should abort the step loop entirely
// rather than being recorded against the current step.
func IsFatalStepError(err error) bool {
	return ClassifyError(err).Type == ErrorTypeUnsupportedStepType
}
