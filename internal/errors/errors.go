package errors

import (
	"errors"
	"fmt"
)

// VerifyError is the structured error type for medverify.
// It provides context for error handling, logging, and user presentation.
type VerifyError struct {
	// Code is the unique error code (e.g., "ERR_202_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *VerifyError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VerifyError) Unwrap() error {
	return e.Cause
}

// Is matches VerifyErrors by code so errors.Is works across wrapping.
func (e *VerifyError) Is(target error) bool {
	if t, ok := target.(*VerifyError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *VerifyError) WithDetail(key, value string) *VerifyError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *VerifyError) WithSuggestion(suggestion string) *VerifyError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VerifyError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VerifyError {
	return &VerifyError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VerifyError from an existing error.
// Returns nil when err is nil.
func Wrap(code string, err error) *VerifyError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VerifyError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error. Retryable.
func NetworkError(message string, cause error) *VerifyError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *VerifyError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VerifyError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err (anywhere in its chain) is a retryable
// VerifyError.
func IsRetryable(err error) bool {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// IsFatal reports whether err carries fatal severity.
func IsFatal(err error) bool {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a VerifyError in the chain.
// Returns empty string if none.
func GetCode(err error) string {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
