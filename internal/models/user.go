package models

import (
	"time"
)

type User struct {
	ID                   string
	Email                string
	PasswordHash         string
	Name                 string
	TOTPSecretEncrypted  *string // base64(nonce || ciphertext || tag), nil when unprovisioned
	TwoFactorEnabled     bool
	BackupCodesEncrypted *string // encrypted JSON array of unused backup codes
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasTwoFactorSecret reports whether a TOTP secret has been provisioned.
func (u *User) HasTwoFactorSecret() bool {
	return u.TOTPSecretEncrypted != nil && *u.TOTPSecretEncrypted != ""
}

// TwoFactorState derives the lifecycle state from the stored record.
func (u *User) TwoFactorState() TwoFactorState {
	switch {
	case u.TwoFactorEnabled:
		return TwoFactorStateEnabled
	case u.HasTwoFactorSecret():
		return TwoFactorStateProvisioned
	default:
		return TwoFactorStateUnprovisioned
	}
}
