package errors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes application errors by failure domain.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeCrypto         ErrorType = "crypto"
	ErrorTypeIntegrity      ErrorType = "integrity"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeDatabase       ErrorType = "database"
	ErrorTypeQueue          ErrorType = "queue"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
)

// AppError is the structured error carried across component boundaries.
// Retryable drives the worker and delivery retry policy: validation,
// configuration, integrity, not-found, and conflict errors are never
// retried; network, queue, and transient database errors are.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors, one per error kind.

func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewConfigError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConfig,
		Code:       "CONFIG_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

func NewCryptoError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeCrypto,
		Code:       "CRYPTO_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

func NewIntegrityError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeIntegrity,
		Code:       "INTEGRITY_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewNetworkError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Code:       "NETWORK_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 502,
	}
}

func NewDatabaseError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Code:       "DATABASE_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewQueueError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeQueue,
		Code:       "QUEUE_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 503,
	}
}

func NewAuthenticationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthentication,
		Code:       "AUTHENTICATION_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewAuthorizationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuthorization,
		Code:       "AUTHORIZATION_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Wrap wraps an error with a message using fmt.Errorf with %w.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type.
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error may be retried with backoff.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Code extracts the error code from an error, INTERNAL when untyped.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL"
}

// GetStatusCode extracts the HTTP status code from an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
