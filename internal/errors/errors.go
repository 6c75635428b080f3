// Package errors provides comprehensive error handling for Praxis.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Error Categories
// ============================================================

// Category defines the type of error for handling decisions.
type Category int

const (
	// CategoryTemporary errors are retryable (network timeouts, temporary failures)
	CategoryTemporary Category = iota

	// CategoryPermanent errors are not retryable (invalid input, not found)
	CategoryPermanent

	// CategoryUser errors are due to user input (validation, syntax)
	CategoryUser

	// CategorySystem errors are system-level (disk full, permissions)
	CategorySystem

	// CategoryRateLimit errors are due to API rate limiting
	CategoryRateLimit
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTemporary:
		return "temporary"
	case CategoryPermanent:
		return "permanent"
	case CategoryUser:
		return "user"
	case CategorySystem:
		return "system"
	case CategoryRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// ============================================================
// AppError - Main Error Type
// ============================================================

// AppError is the main error type for all Praxis errors.
type AppError struct {
	// Code is a unique error code for programmatic handling
	Code string

	// Message is a user-friendly error message
	Message string

	// Category determines how the error should be handled
	Category Category

	// Inner is the underlying error
	Inner error

	// Retryable indicates if the operation can be retried
	Retryable bool

	// Context is additional debugging information
	Context map[string]any

	// RetryAfter is the mandated delay before retry (rate limits)
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *AppError) Error() string {
	var sb strings.Builder

	if e.Code != "" {
		sb.WriteString("[")
		sb.WriteString(e.Code)
		sb.WriteString("] ")
	}

	sb.WriteString(e.Message)

	if e.Inner != nil {
		innerMsg := e.Inner.Error()
		if innerMsg != "" && innerMsg != e.Message {
			sb.WriteString(": ")
			sb.WriteString(innerMsg)
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Inner
}

// Is checks if the target error is contained in this error.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Inner, target)
}

// ============================================================
// Error Constructors
// ============================================================

// New creates a new AppError.
func New(code, message string, category Category) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
	}
}

// Wrap wraps an existing error with context.
func Wrap(err error, code, message string, category Category) *AppError {
	if err == nil {
		return nil
	}

	// If it's already an AppError, preserve its handling attributes
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:       code,
			Message:    message,
			Category:   category,
			Inner:      appErr,
			Retryable:  appErr.Retryable,
			Context:    appErr.Context,
			RetryAfter: appErr.RetryAfter,
		}
	}

	return &AppError{
		Code:     code,
		Message:  message,
		Category: category,
		Inner:    err,
	}
}

// Temporary creates a retryable temporary error.
func Temporary(code, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  CategoryTemporary,
		Retryable: true,
	}
}

// Permanent creates a non-retryable permanent error.
func Permanent(code, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  CategoryPermanent,
		Retryable: false,
	}
}

// User creates a user input error.
func User(code, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  CategoryUser,
		Retryable: false,
	}
}

// System creates a system-level error.
func System(code, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  CategorySystem,
		Retryable: false,
	}
}

// RateLimit creates a rate limit error with the mandated retry delay.
func RateLimit(code, message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   CategoryRateLimit,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// WithContext attaches debugging context to the error and returns it.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ============================================================
// Error Codes
// ============================================================

const (
	// Provider errors
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeProviderRateLimit   = "PROVIDER_RATE_LIMIT"
	CodeProviderStream      = "PROVIDER_STREAM_ERROR"
	CodeProviderResponse    = "PROVIDER_INVALID_RESPONSE"

	// Tool errors
	CodeToolNotFound  = "TOOL_NOT_FOUND"
	CodeToolFailed    = "TOOL_EXECUTION_FAILED"
	CodeToolBadParams = "TOOL_INVALID_PARAMS"

	// Capability server errors
	CodeServerUnknown      = "SERVER_UNKNOWN"
	CodeServerNotConnected = "SERVER_NOT_CONNECTED"
	CodeServerConnect      = "SERVER_CONNECT_FAILED"
	CodeServerCall         = "SERVER_CALL_FAILED"

	// Subagent errors
	CodeSubagentTimeout  = "SUBAGENT_TIMEOUT"
	CodeSubagentRejected = "SUBAGENT_REJECTED"
	CodeConfirmNotFound  = "CONFIRMATION_NOT_FOUND"

	// File errors
	CodeFileNotFound   = "FILE_NOT_FOUND"
	CodeFileReadFailed = "FILE_READ_FAILED"
	CodeEditAmbiguous  = "EDIT_AMBIGUOUS"
	CodeEditNoMatch    = "EDIT_NO_MATCH"

	// Network errors
	CodeNetworkUnavailable = "NETWORK_UNAVAILABLE"

	// Config errors
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeConfigNotFound = "CONFIG_NOT_FOUND"
)

// ============================================================
// Helpers
// ============================================================

// GetCategory extracts the category from an error.
// Returns CategoryTemporary for non-AppError errors.
func GetCategory(err error) Category {
	if err == nil {
		return CategoryTemporary
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category
	}

	// Default to temporary for unknown errors (safe default)
	return CategoryTemporary
}

// GetCode extracts the error code from an error.
// Returns the empty string for non-AppError errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return true
}

// IsRateLimit checks if an error is a rate-limit signal.
func IsRateLimit(err error) bool {
	return GetCategory(err) == CategoryRateLimit
}

// GetRetryAfter returns the mandated retry delay carried by the error.
func GetRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}

	return 0
}

// Errorf creates a permanent error from a format string.
func Errorf(code string, format string, args ...any) *AppError {
	return Permanent(code, fmt.Sprintf(format, args...))
}
