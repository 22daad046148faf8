// Package errors provides structured error handling for databroker-pack.
// Errors carry codes for programmatic handling, a context map, and a stack
// trace captured at construction time for --strict debugging.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Catalog errors (1xx)
	CodeUIDNotFound  Code = "E101"
	CodeAmbiguousUID Code = "E102"
	CodeQueryInvalid Code = "E103"
	CodeCatalogOpen  Code = "E104"

	// Export errors (2xx)
	CodeRunFailed       Code = "E201"
	CodeFillFailed      Code = "E202"
	CodeSerializeFailed Code = "E203"
	CodeFileListFailed  Code = "E204"

	// Output errors (3xx)
	CodeWriteFailed    Code = "E301"
	CodeArtifactExists Code = "E302"
	CodeCopyFailed     Code = "E303"
	CodeUploadFailed   Code = "E304"

	// Configuration errors (4xx)
	CodeConfigInvalid  Code = "E401"
	CodeHandlerUnknown Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// PackError is the base error type for all databroker-pack errors.
type PackError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]any
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *PackError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *PackError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error by code.
func (e *PackError) Is(target error) bool {
	if t, ok := target.(*PackError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *PackError) WithContext(key string, value any) *PackError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new PackError.
func New(code Code, message string) *PackError {
	return &PackError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *PackError {
	if err == nil {
		return nil
	}

	return &PackError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *PackError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	var frames []Frame
	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *PackError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var pe *PackError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var pe *PackError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the
// MultiError itself otherwise.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
