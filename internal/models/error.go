package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Two-factor errors
	ErrTwoFactorSetupRequired  = errors.New("two-factor setup required")
	ErrInvalidCode             = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrSessionExpired          = errors.New("pending login session expired or not found")

	// Infrastructure errors
	ErrDecryptionFailure = errors.New("failed to decrypt stored secret")
	ErrStorageFailure    = errors.New("storage failure")
)
