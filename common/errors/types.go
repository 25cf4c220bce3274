// Package errors provides structured error types for the cache engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeStoreUnavailable represents L2 network or timeout failures
	ErrTypeStoreUnavailable ErrorType = "store_unavailable"
	// ErrTypeSerialization represents values that cannot be encoded or decoded
	ErrTypeSerialization ErrorType = "serialization"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypePartialInvalidation represents invalidations where some keys failed
	ErrTypePartialInvalidation ErrorType = "partial_invalidation"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`

	// FailedKeys is populated for partial invalidation errors and lists
	// the keys that could not be removed; callers may retry them.
	FailedKeys []string `json:"failed_keys,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if len(e.FailedKeys) > 0 {
		parts = append(parts, fmt.Sprintf("failed_keys=[%s]", strings.Join(e.FailedKeys, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// StoreUnavailableError creates a new store unavailable error
func StoreUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStoreUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// SerializationError creates a new serialization error
func SerializationError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeSerialization,
		Message: msg,
		Cause:   cause,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// PartialInvalidationError creates an error listing keys that survived an
// invalidation pass. The cause is the last per-key failure observed.
func PartialInvalidationError(failedKeys []string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypePartialInvalidation,
		Message:    fmt.Sprintf("%d key(s) could not be invalidated", len(failedKeys)),
		Cause:      cause,
		FailedKeys: failedKeys,
	}
}

// IsType checks whether err is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// IsStoreUnavailable checks whether err represents an unavailable backing store
func IsStoreUnavailable(err error) bool {
	return IsType(err, ErrTypeStoreUnavailable)
}

// IsSerialization checks whether err represents an encode/decode failure
func IsSerialization(err error) bool {
	return IsType(err, ErrTypeSerialization)
}

// IsPartialInvalidation checks whether err represents a partial invalidation
func IsPartialInvalidation(err error) bool {
	return IsType(err, ErrTypePartialInvalidation)
}

// FailedKeys extracts the failed key list from a partial invalidation error,
// returning nil for any other error.
func FailedKeys(err error) []string {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Type == ErrTypePartialInvalidation {
		return appErr.FailedKeys
	}
	return nil
}
