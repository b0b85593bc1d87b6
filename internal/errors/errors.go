// Package errors provides typed errors for pgdiag operations.
//
// Two tiers matter to callers. A ConnectionError is fatal: without a session
// there is nothing to diagnose. A QueryError belongs to a single probe and is
// only ever logged; the probe then contributes an empty result.
//
// Sentinel Errors:
//   - ErrConnectionFailed: database connection failed
//   - ErrInvalidConfig: configuration validation failed
//   - ErrProbeFailed: a single probe query failed
//
// Typed Errors:
//   - ConnectionError: wraps session establishment failures
//   - QueryError: wraps a probe query failure with a bounded query preview
//   - ValidationError: wraps configuration/input validation errors
//   - ReportError: wraps report rendering errors
//   - MultiError: aggregates multiple errors
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrConnectionFailed indicates the database connection could not be established.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrInvalidConfig indicates configuration validation failed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProbeFailed indicates a probe query could not be executed.
	ErrProbeFailed = errors.New("probe failed")
)

// ConnectionError represents a failure to open a database session.
type ConnectionError struct {
	Addr string // host:port/dbname, never credentials
	Err  error  // Underlying driver or network error
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(addr string, err error) *ConnectionError {
	return &ConnectionError{Addr: addr, Err: err}
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%v: %v", ErrConnectionFailed, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrConnectionFailed, e.Addr, e.Err)
}

// Unwrap exposes both ErrConnectionFailed and the cause.
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailed, e.Err}
}

// Is reports whether target matches this error type.
func (e *ConnectionError) Is(target error) bool {
	_, ok := target.(*ConnectionError)
	return ok
}

// QueryError represents a database query error.
type QueryError struct {
	Query    string // SQL query (truncated for long queries)
	SQLState string // Five-character SQLSTATE, empty when the driver gives none
	Err      error  // Underlying database error
}

// QueryPreviewLen is the maximum length of a query string in error messages.
const QueryPreviewLen = 100

// NewQueryError creates a new QueryError.
// Long queries are automatically truncated.
func NewQueryError(query string, err error) *QueryError {
	return &QueryError{Query: Preview(query), Err: err}
}

// Preview returns the first QueryPreviewLen characters of query with "..."
// appended when anything was cut. Leading and trailing whitespace is
// dropped so multi-line queries start with their first keyword.
func Preview(query string) string {
	query = strings.TrimSpace(query)
	n := 0
	for i := range query {
		if n == QueryPreviewLen {
			return query[:i] + "..."
		}
		n++
	}
	return query
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("query failed [%s]: %v (SQLSTATE %s)", e.Query, e.Err, e.SQLState)
	}
	return fmt.Sprintf("query failed [%s]: %v", e.Query, e.Err)
}

// Unwrap exposes both ErrProbeFailed and the cause.
func (e *QueryError) Unwrap() []error {
	return []error{ErrProbeFailed, e.Err}
}

// Is reports whether target matches this error type.
func (e *QueryError) Is(target error) bool {
	_, ok := target.(*QueryError)
	return ok
}

// ValidationError represents a configuration or input validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was invalid (may be redacted for sensitive fields)
	Message string // Human-readable validation message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// Unwrap returns ErrInvalidConfig for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Is reports whether target matches this error type.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ReportError represents an error during report rendering.
type ReportError struct {
	Phase string // Phase that failed (e.g., "encode", "write")
	Path  string // Output path (if applicable)
	Err   error  // Underlying error
}

// NewReportError creates a new ReportError.
func NewReportError(phase, path string, err error) *ReportError {
	return &ReportError{Phase: phase, Path: path, Err: err}
}

// Error implements the error interface.
func (e *ReportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("report %s error: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("report %s error for %s: %v", e.Phase, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ReportError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *ReportError) Is(target error) bool {
	_, ok := target.(*ReportError)
	return ok
}

// MultiError aggregates multiple errors into a single error.
// This is useful when multiple operations can fail independently.
type MultiError struct {
	Errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (me *MultiError) Add(err error) {
	if err != nil {
		me.Errors = append(me.Errors, err)
	}
}

// Error implements the error interface.
func (me *MultiError) Error() string {
	switch len(me.Errors) {
	case 0:
		return "no errors"
	case 1:
		return me.Errors[0].Error()
	default:
		msgs := make([]string, len(me.Errors))
		for i, err := range me.Errors {
			msgs[i] = err.Error()
		}
		return fmt.Sprintf("%d errors occurred: %s", len(me.Errors), strings.Join(msgs, "; "))
	}
}

// Unwrap returns all collected errors for errors.Is/As support.
func (me *MultiError) Unwrap() []error {
	return me.Errors
}

// ErrorOrNil returns nil if no errors were added, otherwise returns the MultiError.
func (me *MultiError) ErrorOrNil() error {
	if len(me.Errors) == 0 {
		return nil
	}
	return me
}
