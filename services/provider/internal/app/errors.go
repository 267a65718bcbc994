package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("Email and password are required")
	ErrUserAlreadyRegistered    = errors.New("User already registered")

	// ErrInvalidCredentials does not say which of email or password was wrong.
	ErrInvalidCredentials = errors.New("Invalid login credentials")

	ErrRefreshTokenRequired = errors.New("Refresh token is required")
	ErrInvalidRefreshToken  = errors.New("Invalid Refresh Token")

	ErrUnauthorized = errors.New("unauthorized")

	// ErrRowLevelSecurity rejects reads and writes outside the caller's rows.
	ErrRowLevelSecurity = errors.New("new row violates row-level security policy")
	ErrFilterRequired   = errors.New("DELETE requires a WHERE clause")
	ErrInvalidRow       = errors.New("invalid row")

	ErrStorageDisabled   = errors.New("object storage is not configured")
	ErrInvalidObjectPath = errors.New("invalid object path")
	ErrBucketNotFound    = errors.New("Bucket not found")
	ErrObjectTooLarge    = errors.New("object exceeds the maximum allowed size")
)
