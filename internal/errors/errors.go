// Package errors provides sentinel errors for the sbench driver.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for known conditions.
var (
	// ErrWorkloadSyntax indicates a structurally or semantically invalid workload.
	ErrWorkloadSyntax = errors.New("workload syntax error")

	// ErrSystemSetup indicates an environment problem (offline, unknown workload, bad version).
	ErrSystemSetup = errors.New("system setup error")

	// ErrData indicates that local or remote data does not match expectations.
	ErrData = errors.New("data error")

	// ErrDataStreaming indicates a failure in the streaming ingestion pipeline.
	ErrDataStreaming = errors.New("data streaming error")

	// ErrWorkloadConfig indicates user-supplied workload parameters that the workload does not define.
	ErrWorkloadConfig = errors.New("workload config error")

	// ErrAssertion indicates an internal invariant violation, i.e. a bug in the driver.
	ErrAssertion = errors.New("assertion error")

	// ErrExhausted is the ordinary terminator raised by finite parameter
	// sources. It signals that a client is done, not that anything failed.
	ErrExhausted = errors.New("parameter source exhausted")
)

// DetailError captures structured error information for user-facing diagnostics.
type DetailError struct {
	// Kind is the error category (required).
	Kind string

	// Message is the specific description (required).
	Message string

	// Location is the file path or task/operation reference (optional).
	Location string

	// Field is the offending field for schema errors (optional).
	Field string

	// Hint provides actionable guidance (optional).
	Hint string

	// Cause is the underlying error (optional).
	Cause error
}

// Error implements the error interface.
func (e *DetailError) Error() string {
	var b strings.Builder

	b.WriteString("Error: ")
	b.WriteString(e.Kind)
	b.WriteString("\n")

	if e.Location != "" {
		b.WriteString("  Location: ")
		b.WriteString(e.Location)
		b.WriteString("\n")
	}
	if e.Field != "" {
		b.WriteString("  Field: ")
		b.WriteString(e.Field)
		b.WriteString("\n")
	}

	b.WriteString("\n  ")
	b.WriteString(e.Message)
	b.WriteString("\n")

	if e.Hint != "" {
		b.WriteString("\nHint: ")
		b.WriteString(e.Hint)
		b.WriteString("\n")
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *DetailError) Unwrap() error {
	return e.Cause
}

// NewSyntaxError creates a workload syntax error with details.
func NewSyntaxError(message, location, field string) error {
	return &DetailError{
		Kind:     "invalid workload",
		Message:  message,
		Location: location,
		Field:    field,
		Cause:    ErrWorkloadSyntax,
	}
}

// NewSystemSetupError creates a system setup error with details.
func NewSystemSetupError(message, hint string) error {
	return &DetailError{
		Kind:    "system setup failed",
		Message: message,
		Hint:    hint,
		Cause:   ErrSystemSetup,
	}
}

// NewDataError creates a data error for the given file or document set.
func NewDataError(message, location string) error {
	return &DetailError{
		Kind:     "data mismatch",
		Message:  message,
		Location: location,
		Cause:    ErrData,
	}
}

// NewWorkloadConfigError creates an error for unused or undefined workload parameters.
func NewWorkloadConfigError(message, hint string) error {
	return &DetailError{
		Kind:    "workload parameters invalid",
		Message: message,
		Hint:    hint,
		Cause:   ErrWorkloadConfig,
	}
}

// NewAssertionError reports an internal invariant violation.
func NewAssertionError(format string, args ...any) error {
	return &DetailError{
		Kind:    "internal assertion failed",
		Message: fmt.Sprintf(format, args...),
		Hint:    "this is a bug in the benchmark driver, please report it",
		Cause:   ErrAssertion,
	}
}

// Wrap wraps an error with a sentinel error type.
func Wrap(sentinel error, message string) error {
	return fmt.Errorf("%s: %w", message, sentinel)
}
