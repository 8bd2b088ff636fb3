// Package apperror defines the request-level errors of the engine.
//
// Request errors are raised before any process is spawned. Handlers map
// them to HTTP status codes; everything else is an engine failure.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrUnauthorized        = errors.New("unauthorized")
)

type AppError struct {
	Err     error  // sentinel
	Message string // human-readable message
	Field   string // optional: request field at fault
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// UnsupportedLanguage also matches ErrValidation so callers that only care
// about "bad request" can test for that.
func UnsupportedLanguage(language string) *AppError {
	return &AppError{
		Err:     errors.Join(ErrUnsupportedLanguage, ErrValidation),
		Message: fmt.Sprintf("unsupported language %q", language),
		Field:   "language",
	}
}

// Unauthorized returns an AppError for missing or invalid credentials.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}
