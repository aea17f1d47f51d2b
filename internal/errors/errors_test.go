package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSpanlensError_Error(t *testing.T) {
	err := New(ErrCategoryImport, CodeNoEvents, "payload has no events")
	expected := "[IMPORT:NO_EVENTS] payload has no events"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSpanlensError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "upload failed", cause)
	expected := "[STORAGE:UPLOAD_FAILED] upload failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestSpanlensError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryImport, CodeMalformedPayload, "bad json", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestSpanlensError_Is(t *testing.T) {
	err1 := New(ErrCategoryImport, CodeUnknownFormat, "first")
	err2 := New(ErrCategoryImport, CodeUnknownFormat, "second")
	err3 := New(ErrCategoryImport, CodeMissingArrays, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("loading file: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryImport, CodeMalformedPayload, false},
		{ErrCategoryImport, CodeNoEvents, false},
		{ErrCategoryExport, CodeNothingToRender, false},
		{ErrCategoryQuery, CodeSpanNotFound, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryQuery, CodeUnknownAttribute, "no such attribute")
	if GetCategory(err) != ErrCategoryQuery {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryQuery)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-SpanlensError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryQuery, CodeSpanNotFound, "missing")
	if GetCode(err) != CodeSpanNotFound {
		t.Errorf("got %q, want %q", GetCode(err), CodeSpanNotFound)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-SpanlensError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryImport, CodeMissingArrays, "layers without events")
	detailed := err.WithDetails(map[string]interface{}{"missing": "events"})

	if detailed.Details["missing"] != "events" {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	if GetDetails(detailed)["missing"] != "events" {
		t.Error("GetDetails should return the details map")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	im := NewImportError(CodeNoEvents, "empty")
	if im.Category != ErrCategoryImport || im.Code != CodeNoEvents {
		t.Error("NewImportError mismatch")
	}

	ex := NewExportError(CodeRenderFailed, "chart", cause)
	if ex.Category != ErrCategoryExport || !errors.Is(ex, cause) {
		t.Error("NewExportError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	q := NewQueryError(CodeSpanNotFound, "missing")
	if q.Category != ErrCategoryQuery {
		t.Error("NewQueryError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
