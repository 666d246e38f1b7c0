package auth

import "errors"

var (
	// ErrTokenInvalid indicates a token that failed signature, expiry or
	// claim validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrPermissionDenied indicates an action the agent's type does not
	// permit.
	ErrPermissionDenied = errors.New("auth: permission denied")
)
