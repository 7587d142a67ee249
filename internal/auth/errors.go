package auth

import "errors"

var (
	// Authentication.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrSessionRevoked     = errors.New("auth: session revoked")

	// Administration.
	ErrNotFound        = errors.New("auth: not found")
	ErrDuplicateHandle = errors.New("auth: handle already exists")
	ErrInvalidInput    = errors.New("auth: invalid input")

	// Infrastructure.
	ErrStoreUnavailable = errors.New("auth: store unavailable")
)
