package models

import (
	"time"
)

// TwoFactorState is the lifecycle position of a user's second factor.
type TwoFactorState string

const (
	TwoFactorStateUnprovisioned TwoFactorState = "unprovisioned"
	TwoFactorStateProvisioned   TwoFactorState = "provisioned"
	TwoFactorStateEnabled       TwoFactorState = "enabled"
)

// BackupCodeCount is the number of backup codes issued per setup
const BackupCodeCount = 10

// TwoFactorSetup is returned once by setup and never persisted in plaintext
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCode          string   `json:"qr_code"`      // Data URL for QR code
	BackupCodes     []string `json:"backup_codes"` // shown to the user exactly once
}

// TwoFactorStatus represents the 2FA status for a user
type TwoFactorStatus struct {
	Enabled              bool           `json:"enabled"`
	State                TwoFactorState `json:"state"`
	RemainingBackupCodes int            `json:"remaining_backup_codes"`
}

// PendingLoginSession is the server-side record of a password-verified login
// still waiting for its second factor. ID is the SHA-256 hash of the token.
type PendingLoginSession struct {
	ID        string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValidAt reports whether the session is still usable at t.
func (s *PendingLoginSession) IsValidAt(t time.Time) bool {
	return t.Before(s.ExpiresAt)
}
