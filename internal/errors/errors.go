// Package errors provides the error taxonomy shared by the strata packages.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Typed errors for query parsing and collection I/O
// - Error category checking functions
// - Validation error collection
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Lookup errors
	ErrNotFound        = errors.New("not found")
	ErrVersionNotFound = errors.New("version not found")

	// Configuration / connection errors (fatal at construction, never retried)
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrUnsupportedDriver = errors.New("unsupported driver")

	// Query compilation errors
	ErrParse             = errors.New("parse error")
	ErrUnsupportedFilter = errors.New("unsupported filter type")
	ErrInvalidValue      = errors.New("invalid filter value")

	// Property access errors (in-process predicate evaluation)
	ErrNoSuchProperty = errors.New("no such property")
	ErrNotNumeric     = errors.New("value is not numeric")

	// Identity errors
	ErrInvalidID = errors.New("invalid object id")

	// I/O and execution errors
	ErrCollectionIO = errors.New("collection i/o error")
	ErrTimeout      = errors.New("timeout")
	ErrClosed       = errors.New("closed")

	// Time-series errors
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// ============================================================================
// Typed errors
// ============================================================================

// ParseError is returned by the OQL lexer and parser.
type ParseError struct {
	Pos   int    // byte offset in the input
	Input string // the full query text
	Msg   string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("oql: %s at position %d in %q", e.Msg, e.Pos, e.Input)
}

// Unwrap makes errors.Is(err, ErrParse) hold for every ParseError.
func (e *ParseError) Unwrap() error {
	return ErrParse
}

// CollectionError wraps an I/O or backend failure of a collection operation.
type CollectionError struct {
	Collection string
	Op         string
	Err        error
}

// NewCollectionError wraps err for the given collection and operation.
// A nil err yields nil.
func NewCollectionError(collection, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollectionError
	if errors.As(err, &ce) {
		return err
	}
	return &CollectionError{Collection: collection, Op: op, Err: err}
}

// Error implements the error interface.
func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection %s: %s: %v", e.Collection, e.Op, e.Err)
}

// Unwrap exposes both the category sentinel and the cause.
func (e *CollectionError) Unwrap() []error {
	return []error{ErrCollectionIO, e.Err}
}

// ============================================================================
// Helper functions for error checking
// ============================================================================

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionNotFound)
}

// IsQueryError returns true if err was raised while compiling a query.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrUnsupportedFilter) ||
		errors.Is(err, ErrInvalidValue)
}

// IsConfigError returns true if err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrUnsupportedDriver) ||
		errors.Is(err, ErrInvalidResolution)
}

// IsIOError returns true if err is a wrapped collection failure.
func IsIOError(err error) bool {
	return errors.Is(err, ErrCollectionIO)
}

// IsRetriable returns true if the caller may reasonably retry the operation.
// Nothing in this module retries on its own.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewUnsupportedFilter reports a filter kind a compiler does not handle.
func NewUnsupportedFilter(backend string, f any) error {
	return fmt.Errorf("%s: %T: %w", backend, f, ErrUnsupportedFilter)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes ErrInvalidConfig and all collected errors for errors.Is/As
// support.
func (v *ValidationErrors) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, v.Errors...)
}
