package exception

import "errors"

// Auth errors
var (
	// ErrAuthenticate marks a transient authentication failure; the caller
	// may retry on the next renewal cycle.
	ErrAuthenticate = errors.New("auth: authenticate failed")
	// ErrInvalidCredentials marks a rejected identity/secret pair. Retrying
	// with the same pair cannot succeed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrManagerClosed      = errors.New("auth: manager closed")
)
