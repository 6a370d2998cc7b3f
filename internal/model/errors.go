package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a referenced Person is absent.
// Surfaced to HTTP callers as a 404.
var ErrNotFound = eris.New("model: not found")

// ValidationError reports a missing or malformed required field. It is
// surfaced to the caller before any store access happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExternalServiceError wraps a failure from an outbound provider
// (validator, search, analytics, webhook transport). Always recoverable
// at this layer: logged, and for the worker it flags the record.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("model: %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError wraps err with the originating service name.
func NewExternalServiceError(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}
