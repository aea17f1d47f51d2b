// Package errors provides structured error types for spanlens.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryImport   ErrorCategory = "IMPORT"
	ErrCategoryExport   ErrorCategory = "EXPORT"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryQuery    ErrorCategory = "QUERY"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Import codes
	CodeMalformedPayload = "MALFORMED_PAYLOAD"
	CodeUnknownFormat    = "UNKNOWN_FORMAT"
	CodeMissingArrays    = "MISSING_ARRAYS"
	CodeNoEvents         = "NO_EVENTS"

	// Export codes
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeNothingToRender   = "NOTHING_TO_RENDER"
	CodeRenderFailed      = "RENDER_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeDeleteFailed   = "DELETE_FAILED"

	// Query codes
	CodeSpanNotFound     = "SPAN_NOT_FOUND"
	CodeUnknownAttribute = "UNKNOWN_ATTRIBUTE"
	CodeInvalidFilter    = "INVALID_FILTER"
	CodeInvalidRequest   = "INVALID_REQUEST"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SpanlensError is the structured error type used throughout the system.
type SpanlensError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SpanlensError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SpanlensError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SpanlensError) Is(target error) bool {
	var t *SpanlensError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SpanlensError.
func New(category ErrorCategory, code, message string) *SpanlensError {
	return &SpanlensError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SpanlensError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SpanlensError {
	return &SpanlensError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SpanlensError) WithDetails(details map[string]interface{}) *SpanlensError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SpanlensError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SpanlensError.
func GetCategory(err error) ErrorCategory {
	var se *SpanlensError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SpanlensError.
func GetCode(err error) string {
	var se *SpanlensError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]interface{} {
	var se *SpanlensError
	if errors.As(err, &se) {
		return se.Details
	}
	return nil
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewImportError(code, message string) *SpanlensError {
	return New(ErrCategoryImport, code, message)
}

func NewExportError(code, message string, cause error) *SpanlensError {
	return Wrap(ErrCategoryExport, code, message, cause)
}

func NewStorageError(code, message string, cause error) *SpanlensError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewQueryError(code, message string) *SpanlensError {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *SpanlensError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
