package api

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies a failure so callers can distinguish "your input
// is wrong" from "a dependency was unreachable" from "your script tried
// something forbidden".
type ErrorCategory string

const (
	// CategoryValidation covers missing or malformed inputs and workflow
	// schema violations. Validation failures never partially execute.
	CategoryValidation ErrorCategory = "validation"

	// CategoryExecution covers step, script, and tool runtime failures.
	CategoryExecution ErrorCategory = "execution"

	// CategoryToolUnavailable covers lookups of unknown or currently
	// unreachable tools.
	CategoryToolUnavailable ErrorCategory = "tool_unavailable"

	// CategoryTimeout covers step or sandbox budget exhaustion.
	CategoryTimeout ErrorCategory = "timeout"

	// CategorySecurity covers sandbox policy violations, static or dynamic.
	// Security errors are never retryable.
	CategorySecurity ErrorCategory = "security"
)

// Error is the structured error type used throughout the execution core.
// It carries a stable code, a category for routing, and a retryable flag
// that the engine consults under an explicit retry policy.
type Error struct {
	Code      string
	Category  ErrorCategory
	Message   string
	Retryable bool
	StepID    string
}

func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s [%s] step %s: %s", e.Code, e.Category, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s [%s] %s", e.Code, e.Category, e.Message)
}

// NewValidationError creates a validation-category error.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{
		Code:     "VALIDATION_FAILED",
		Category: CategoryValidation,
		Message:  fmt.Sprintf(format, args...),
	}
}

// NewExecutionError creates an execution-category error. Retryable is decided
// by the failure source, never by the caller.
func NewExecutionError(retryable bool, format string, args ...interface{}) *Error {
	return &Error{
		Code:      "EXECUTION_FAILED",
		Category:  CategoryExecution,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable,
	}
}

// NewToolUnavailableError creates a tool_unavailable-category error for the
// named tool.
func NewToolUnavailableError(toolName string) *Error {
	return &Error{
		Code:     "TOOL_UNAVAILABLE",
		Category: CategoryToolUnavailable,
		Message:  fmt.Sprintf("tool %q not found", toolName),
	}
}

// NewTimeoutError creates a timeout-category error. Timeouts are retryable.
func NewTimeoutError(format string, args ...interface{}) *Error {
	return &Error{
		Code:      "TIMEOUT",
		Category:  CategoryTimeout,
		Message:   fmt.Sprintf(format, args...),
		Retryable: true,
	}
}

// NewSecurityError creates a security-category error. Security violations
// are never retryable and never partially executed.
func NewSecurityError(format string, args ...interface{}) *Error {
	return &Error{
		Code:     "SECURITY_VIOLATION",
		Category: CategorySecurity,
		Message:  fmt.Sprintf(format, args...),
	}
}

// IsRetryable reports whether err is an *Error flagged retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CategoryOf returns the category of err, or CategoryExecution when err is
// not a structured *Error.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryExecution
}

// NotFoundError represents a resource not found condition with contextual
// information. It is used by catalog and registry lookups, which signal
// errors directly rather than through execution results.
type NotFoundError struct {
	// ResourceType categorizes the resource (e.g. "workflow", "tool",
	// "execution", "backend").
	ResourceType string

	// ResourceName is the identifier that was not found.
	ResourceName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError for the given resource.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

var (
	// NewWorkflowNotFoundError creates a workflow not found error.
	NewWorkflowNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("workflow", name)
	}

	// NewExecutionNotFoundError creates an execution not found error.
	NewExecutionNotFoundError = func(id string) *NotFoundError {
		return NewNotFoundError("execution", id)
	}

	// NewBackendNotFoundError creates a backend not found error.
	NewBackendNotFoundError = func(name string) *NotFoundError {
		return NewNotFoundError("backend", name)
	}
)
