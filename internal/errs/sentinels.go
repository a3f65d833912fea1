// Package errs contains sentinel errors and error kinds used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across transport/store/service layers.
var (
	// ErrNotFound indicates the requested thread or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is not allowed to act on the entity (e.g. not a participant).
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the caller exceeded its send budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable = errors.New("unavailable")

	// ErrNotConnected indicates the push channel is not connected.
	ErrNotConnected = errors.New("push channel not connected")

	// ErrInvalidThread indicates a thread without a usable id.
	ErrInvalidThread = errors.New("invalid thread")
)
