// Package common defines shared constants and sentinel errors used across
// fleetkeeper layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors. Inactive records are reported as not found.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Authorization errors. ErrPermission is returned when the principal is
	// not the owner of the entity; ErrOwnership when two entities that must
	// share an owner do not.
	ErrPermission = errors.New("permission denied")
	ErrOwnership  = errors.New("ownership mismatch")

	// Validation errors (name length, missing payload, bad username).
	ErrValidation = errors.New("validation error")

	// Storage errors: uniqueness or transaction conflicts and torn links.
	ErrStorageIntegrity = errors.New("storage integrity error")

	// Payload read failures.
	ErrIO = errors.New("io error")

	// A version chain that loops back on itself.
	ErrChainCorrupted = errors.New("version chain corrupted")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// ValidationError describes a single invalid input field. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a field-level validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
