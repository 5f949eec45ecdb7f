package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

// Error types for the filesystem index
type ErrorType string

const (
	// Scan errors (localized to one node, never abort a walk)
	ErrorTypeScan       ErrorType = "scan"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypePermission ErrorType = "permission"

	// Persistence errors
	ErrorTypeCorrupt            ErrorType = "corrupt_artifact"
	ErrorTypeUnsupportedVersion ErrorType = "unsupported_version"
	ErrorTypeIO                 ErrorType = "io"

	// Query errors
	ErrorTypeSearch ErrorType = "search"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// Sentinels for errors.Is checks at call sites that do not care about details.
var (
	ErrCorruptArtifact    = stderrors.New("corrupt index artifact")
	ErrUnsupportedVersion = stderrors.New("unsupported index format version")
)

// ScanError records why a single path could not be fully read during a walk
type ScanError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewScanError classifies err and wraps it with the path it happened on
func NewScanError(op, path string, err error) *ScanError {
	errorType := ErrorTypeScan
	switch {
	case IsNotFound(err):
		errorType = ErrorTypeNotFound
	case IsPermission(err):
		errorType = ErrorTypePermission
	}
	return &ScanError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ScanError) Error() string {
	return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *ScanError) Unwrap() error {
	return e.Underlying
}

// PersistError represents a failure to save or load the index artifact
type PersistError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewPersistError creates an I/O persistence error
func NewPersistError(op, path string, err error) *PersistError {
	return &PersistError{
		Type:       ErrorTypeIO,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewCorruptError reports a structurally invalid artifact
func NewCorruptError(path string, format string, args ...interface{}) *PersistError {
	return &PersistError{
		Type:       ErrorTypeCorrupt,
		Path:       path,
		Operation:  "load",
		Underlying: fmt.Errorf("%w: %s", ErrCorruptArtifact, fmt.Sprintf(format, args...)),
		Timestamp:  time.Now(),
	}
}

// NewVersionError reports an artifact written by a format this build does not understand
func NewVersionError(path string, got, want uint32) *PersistError {
	return &PersistError{
		Type:       ErrorTypeUnsupportedVersion,
		Path:       path,
		Operation:  "load",
		Underlying: fmt.Errorf("%w: found %d, supported %d", ErrUnsupportedVersion, got, want),
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *PersistError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("index %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
	}
	return fmt.Sprintf("index %s failed: %v", e.Operation, e.Underlying)
}

// Unwrap returns the underlying error
func (e *PersistError) Unwrap() error {
	return e.Underlying
}

// SearchError represents a search operation error
type SearchError struct {
	Type       ErrorType
	Pattern    string
	Underlying error
	Timestamp  time.Time
}

// NewSearchError creates a new search error
func NewSearchError(pattern string, err error) *SearchError {
	return &SearchError{
		Type:       ErrorTypeSearch,
		Pattern:    pattern,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed for pattern %q: %v", e.Pattern, e.Underlying)
}

// Unwrap returns the underlying error
func (e *SearchError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// IsNotFound reports a path that vanished, typically a lost race with deletion
func IsNotFound(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}

// IsPermission reports an access-denied failure
func IsPermission(err error) bool {
	return stderrors.Is(err, fs.ErrPermission)
}

// IsInterrupted reports a status read interrupted by a signal; the read should be retried
func IsInterrupted(err error) bool {
	return stderrors.Is(err, syscall.EINTR)
}

// IsCorrupt reports a corrupt or unsupported artifact
func IsCorrupt(err error) bool {
	return stderrors.Is(err, ErrCorruptArtifact) || stderrors.Is(err, ErrUnsupportedVersion)
}
