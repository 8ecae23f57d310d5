// Package errors provides a structured error system for poolcache with error
// codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

const (
	// Configuration errors: fail fast, surfaced synchronously to the caller.
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeCacheExists      ErrorCode = "CACHE_EXISTS"
	ErrCodeCacheNotFound    ErrorCode = "CACHE_NOT_FOUND"
	ErrCodePolicyNotFound   ErrorCode = "POLICY_NOT_FOUND"

	// Resource errors: best-effort outcomes, reported via logging/telemetry.
	ErrCodeAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrCodeCacheFull         ErrorCode = "CACHE_FULL"

	// Storage errors: the durable collaborator misbehaved. Non-fatal for
	// cache correctness; persistence degrades rather than propagating.
	ErrCodeStorageRead     ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite    ErrorCode = "STORAGE_WRITE"
	ErrCodeSnapshotCorrupt ErrorCode = "SNAPSHOT_CORRUPT"

	// State and operation errors.
	ErrCodeAlreadyDestroyed ErrorCode = "ALREADY_DESTROYED"
	ErrCodeBreakerOpen      ErrorCode = "BREAKER_OPEN"
	ErrCodeRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryResource      ErrorCategory = "resource"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so callers can compare against sentinel values.
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	for k, v := range e.Context {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new cache error with category and retry defaults
// derived from the code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeCacheExists,
		ErrCodeCacheNotFound, ErrCodePolicyNotFound:
		return CategoryConfiguration
	case ErrCodeAdmissionRejected, ErrCodeCacheFull:
		return CategoryResource
	case ErrCodeStorageRead, ErrCodeStorageWrite, ErrCodeSnapshotCorrupt:
		return CategoryStorage
	case ErrCodeAlreadyDestroyed, ErrCodeBreakerOpen:
		return CategoryState
	case ErrCodeRetryExhausted:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Only transient storage failures qualify; configuration errors never do.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeStorageRead, ErrCodeStorageWrite, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// WithContext adds contextual information to an error.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// CodeOf extracts the error code from err, or ErrCodeInternalError when err
// carries no structured code.
func CodeOf(err error) ErrorCode {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code
	}
	return ErrCodeInternalError
}
