// Package errors provides structured error handling for GeoFlow.
// Errors carry codes, context, and stack traces; the recovery controller
// classifies failures by code group.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code identifies an error for programmatic handling.
type Code string

const (
	// Configuration errors (1xx) - never recovered, abort before I/O.
	CodeInvalidChunkSize Code = "E101"
	CodeInvalidOptions   Code = "E102"
	CodeSourceNotFound   Code = "E103"
	CodeOutputUnwritable Code = "E104"

	// Memory errors (2xx) - recovered by halving the batch size.
	CodeMemoryLimit Code = "E201"
	CodeAllocFailed Code = "E202"

	// Schema errors (3xx) - recovered by re-running reconciliation.
	CodeSchemaConflict Code = "E301"
	CodeSchemaFrozen   Code = "E302"

	// I/O errors (4xx) - recovered by backoff retry.
	CodeSourceRead    Code = "E401"
	CodeArtifactWrite Code = "E402"
	CodeCombineFailed Code = "E403"

	// Data errors (5xx) - recovered by record-level degradation, never retried.
	CodeRecordCorrupt   Code = "E501"
	CodeGeometryInvalid Code = "E502"

	// System errors (9xx)
	CodeContextCanceled Code = "E901"
	CodePanic           Code = "E902"
	CodeUnknown         Code = "E999"
)

// Class groups codes into the recovery taxonomy.
type Class int

const (
	ClassUnknown Class = iota
	ClassFatalConfiguration
	ClassMemoryPressure
	ClassSchemaConflict
	ClassSourceIO
	ClassDataCorruption
	ClassCanceled
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassFatalConfiguration:
		return "fatal_configuration"
	case ClassMemoryPressure:
		return "memory_pressure"
	case ClassSchemaConflict:
		return "schema_conflict"
	case ClassSourceIO:
		return "source_io"
	case ClassDataCorruption:
		return "data_corruption"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ClassOf maps an error to its recovery class.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}
	switch GetCode(err) {
	case CodeInvalidChunkSize, CodeInvalidOptions, CodeSourceNotFound, CodeOutputUnwritable:
		return ClassFatalConfiguration
	case CodeMemoryLimit, CodeAllocFailed:
		return ClassMemoryPressure
	case CodeSchemaConflict, CodeSchemaFrozen:
		return ClassSchemaConflict
	case CodeSourceRead, CodeArtifactWrite, CodeCombineFailed:
		return ClassSourceIO
	case CodeRecordCorrupt, CodeGeometryInvalid:
		return ClassDataCorruption
	case CodeContextCanceled:
		return ClassCanceled
	default:
		return ClassUnknown
	}
}

// Error is the base error type for all GeoFlow errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
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
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

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
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// SourceNotFound creates a missing-source error.
func SourceNotFound(path string) *Error {
	return New(CodeSourceNotFound, "source dataset not found").WithContext("path", path)
}

// InvalidChunkSize creates a chunk-size validation error.
func InvalidChunkSize(value int) *Error {
	return New(CodeInvalidChunkSize, "chunk size must be positive").WithContext("chunk_size", value)
}

// RecordCorrupt creates a per-record decode error.
func RecordCorrupt(layer string, row int64, err error) *Error {
	return Wrap(err, CodeRecordCorrupt, "record decode failed").
		WithContext("layer", layer).
		WithContext("row", row)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *Error {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether the recovery controller may retry the failed
// stage. Data corruption is excluded: retrying a deterministic decode failure
// wastes work.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassMemoryPressure, ClassSourceIO, ClassSchemaConflict:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must abort before any I/O.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassFatalConfiguration
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

// Combined returns nil if no errors, the single error if one, or the MultiError.
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
