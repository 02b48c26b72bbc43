// Package errors provides the structured error type used at buildgate's
// boundaries (CLI exit paths, HTTP handlers, session summaries) for
// category-based classification.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory classifies a buildgate error for reporting and exit codes.
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Build session errors
	CategorySession ErrorCategory = "session"
	CategoryUnit    ErrorCategory = "unit"

	// Runtime and infrastructure errors
	CategoryJournal  ErrorCategory = "journal"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// BuildGateError is a structured error with category, severity and context.
type BuildGateError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for BuildGateError.
type ContextFields map[string]any

// Error implements the error interface.
func (e *BuildGateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *BuildGateError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *BuildGateError) WithContext(key string, value any) *BuildGateError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new BuildGateError.
func New(category ErrorCategory, severity ErrorSeverity, message string) *BuildGateError {
	return &BuildGateError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new BuildGateError that wraps an existing error.
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildGateError {
	return &BuildGateError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// IsCategory checks if an error (anywhere in its chain) belongs to a
// specific category.
func IsCategory(err error, category ErrorCategory) bool {
	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		return bge.Category == category
	}
	return false
}

// GetCategory extracts the category from an error chain, or returns
// CategoryInternal for plain errors.
func GetCategory(err error) ErrorCategory {
	var bge *BuildGateError
	if stderrors.As(err, &bge) {
		return bge.Category
	}
	return CategoryInternal
}

// ConfigError creates a configuration error.
func ConfigError(message string) *BuildGateError {
	return New(CategoryConfig, SeverityFatal, message)
}

// ValidationError creates a validation error.
func ValidationError(message string) *BuildGateError {
	return New(CategoryValidation, SeverityWarning, message)
}

// SessionError wraps a build session failure.
func SessionError(err error, message string) *BuildGateError {
	return Wrap(err, CategorySession, SeverityError, message)
}

// DaemonError creates a daemon error.
func DaemonError(message string) *BuildGateError {
	return New(CategoryDaemon, SeverityError, message)
}
