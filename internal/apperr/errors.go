// Package apperr defines the error kinds the API distinguishes for callers.
// Services wrap these sentinels with fmt.Errorf("...: %w", ...) so handlers
// can dispatch on errors.Is without string comparison.
package apperr

import "errors"

var (
	// ErrNotFound means a referenced id is absent, or soft-deleted in a
	// context that requires an active record.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the principal is authenticated but lacks rights
	// for the target object or operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated means no or invalid identity was presented.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidInput means a malformed or out-of-range field.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientStock means a sell exceeds the available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
)
