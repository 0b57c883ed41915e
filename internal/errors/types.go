// Package errors defines the structured error type shared by the codepad
// packages. Errors carry a category and a stable code so that the HTTP and
// WebSocket surfaces can report them to the user without string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeInvalidPath         = "ERR_INVALID_PATH"
	ErrCodePathTraversal       = "ERR_PATH_TRAVERSAL"
	ErrCodeUnsupportedFileKind = "ERR_UNSUPPORTED_FILE_KIND"
	ErrCodeUnknownCommand      = "ERR_UNKNOWN_COMMAND"
	ErrCodeUnknownBuffer       = "ERR_UNKNOWN_BUFFER"
	ErrCodeInvalidChord        = "ERR_INVALID_CHORD"
	ErrCodeReadFailed          = "ERR_READ_FAILED"
	ErrCodeWriteFailed         = "ERR_WRITE_FAILED"
	ErrCodePickerFailed        = "ERR_PICKER_FAILED"
	ErrCodeExternalChange      = "ERR_EXTERNAL_CHANGE"
	ErrCodeConfigInvalid       = "ERR_CONFIG_INVALID"
	ErrCodeInternalError       = "ERR_INTERNAL"
)

// CodepadError is a structured error type with context.
type CodepadError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *CodepadError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *CodepadError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *CodepadError) Is(target error) bool {
	var t *CodepadError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *CodepadError) WithContext(key string, value interface{}) *CodepadError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithFile records the file the error is about.
func (e *CodepadError) WithFile(filePath string) *CodepadError {
	e.FilePath = filePath

	return e
}

// WithComponent adds component context.
func (e *CodepadError) WithComponent(component string) *CodepadError {
	e.Component = component

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *CodepadError {
	return &CodepadError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error. I/O errors never end the session, so they
// are recoverable from the caller's point of view.
func NewIOError(code, message string, cause error) *CodepadError {
	return &CodepadError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *CodepadError {
	return &CodepadError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// newInternalError creates an internal error.
func newInternalError(code, message string, cause error) *CodepadError {
	return &CodepadError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// isRecoverable checks if an error is recoverable.
func isRecoverable(err error) bool {
	var ce *CodepadError
	if errors.As(err, &ce) {
		return ce.Recoverable
	}

	return false
}

// IsIOError checks if an error is an I/O failure.
func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

// IsValidationError checks if an error is a validation failure.
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// Code returns the error code of err, or "" when err is not a CodepadError.
func Code(err error) string {
	var ce *CodepadError
	if errors.As(err, &ce) {
		return ce.Code
	}

	return ""
}

// Message returns the user-facing message of err without code or cause.
func Message(err error) string {
	var ce *CodepadError
	if errors.As(err, &ce) {
		return ce.Message
	}
	if err == nil {
		return ""
	}

	return err.Error()
}

func hasType(err error, t ErrorType) bool {
	var ce *CodepadError
	if errors.As(err, &ce) {
		return ce.Type == t
	}

	return false
}

// ErrInvalidPath creates a path validation error.
func ErrInvalidPath(path string) *CodepadError {
	return NewValidationError(ErrCodeInvalidPath, "invalid path: "+path)
}

// ErrPathTraversal creates a path traversal error.
func ErrPathTraversal(path string) *CodepadError {
	return NewValidationError(ErrCodePathTraversal, "path escapes workspace: "+path)
}

// ErrUnsupportedFileKind is returned when an opened file is not html, css or js.
func ErrUnsupportedFileKind(name string) *CodepadError {
	return NewValidationError(
		ErrCodeUnsupportedFileKind,
		"unsupported file type: "+name+" (expected .html, .css or .js)",
	).WithFile(name)
}

// ErrUnknownCommand creates an unknown command error.
func ErrUnknownCommand(name string) *CodepadError {
	return NewValidationError(ErrCodeUnknownCommand, "unknown command: "+name)
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// Notifier reports an error to the user.
type Notifier interface {
	NotifyError(ctx context.Context, err *CodepadError)
}

// ErrorHandler provides centralized error handling: it logs every error and
// forwards recoverable ones to the user-facing notifier.
type ErrorHandler struct {
	logger   Logger
	notifier Notifier
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger, notifier Notifier) *ErrorHandler {
	return &ErrorHandler{
		logger:   logger,
		notifier: notifier,
	}
}

// Handle processes an error with appropriate logging and notifications.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	var ce *CodepadError
	if !errors.As(err, &ce) {
		ce = newInternalError(ErrCodeInternalError, "unexpected error", err)
	}

	switch ce.Type {
	case ErrorTypeValidation:
		if h.logger != nil {
			h.logger.Warn(ctx, err, "Validation error occurred",
				"type", ce.Type,
				"code", ce.Code,
				"file", ce.FilePath)
		}
	default:
		if h.logger != nil {
			h.logger.Error(ctx, err, "Error occurred",
				"type", ce.Type,
				"code", ce.Code,
				"file", ce.FilePath)
		}
	}

	if h.notifier != nil {
		h.notifier.NotifyError(ctx, ce)
	}
}
