package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. Callers branch with errors.Is.
var (
	// ErrNotFound indicates the referenced role/permission/user/token does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInactive indicates the operation targets a deactivated entity.
	ErrInactive = errors.New("inactive")
	// ErrExpired indicates an assignment or token past its validity window.
	ErrExpired = errors.New("expired")
	// ErrInvalidToken indicates a token with a bad signature, format or revoked state.
	ErrInvalidToken = errors.New("invalid token")
	// ErrValidationFailed indicates malformed input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation among active rows.
	ErrConflict = errors.New("conflict")
	// ErrSystemEntity indicates an attempt to delete or rename a system role/permission.
	ErrSystemEntity = errors.New("system entity is immutable")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// NotFoundf wraps ErrNotFound with entity context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Inactivef wraps ErrInactive with entity context.
func Inactivef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInactive)...)
}

// Validationf wraps ErrValidationFailed with detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidationFailed)...)
}

// Conflictf wraps ErrConflict with detail.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}
