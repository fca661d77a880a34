package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used across the upload handler and the extraction routine
const (
	CodeClient           = "CLIENT_ERROR"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA"
	CodeStorage          = "STORAGE_ERROR"
	CodeExtraction       = "EXTRACTION_ERROR"
	CodeInternal         = "INTERNAL"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func ClientError(message string) error {
	return NewAppError(CodeClient, message, nil)
}

func UnsupportedMediaError(message string) error {
	return NewAppError(CodeUnsupportedMedia, message, nil)
}

func StorageError(message string, cause error) error {
	return NewAppError(CodeStorage, message, cause)
}

func ExtractionError(message string, cause error) error {
	return NewAppError(CodeExtraction, message, cause)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// CodeOf returns the code of the outermost AppError in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code the upload endpoint answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeClient:
		return http.StatusBadRequest
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}
