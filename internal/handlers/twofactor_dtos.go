package handlers

// Setup DTOs

// TwoFactorSetupRequest optionally overrides the account label shown in
// the authenticator app; the user's email is used when empty
type TwoFactorSetupRequest struct {
	AccountLabel string `json:"account_label" validate:"max=255"`
}

// TwoFactorSetupResponse carries the secret and backup codes. This is the
// only time they are returned in plaintext.
type TwoFactorSetupResponse struct {
	Secret          string   `json:"secret"`           // Base32 secret for manual entry
	ProvisioningURI string   `json:"provisioning_uri"` // otpauth:// URI
	QRCode          string   `json:"qr_code"`          // PNG data URL
	BackupCodes     []string `json:"backup_codes"`
}

// Code DTOs

// TwoFactorCodeRequest carries a TOTP code (6 digits) or a backup code (8 chars)
type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,max=20"`
}

// TwoFactorVerifyResponse is the result of a standalone verification
type TwoFactorVerifyResponse struct {
	Valid bool `json:"valid"`
}

// TwoFactorStateResponse confirms an enable or disable transition
type TwoFactorStateResponse struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// Login DTOs

// LoginRequest represents the request body for password login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// VerifyLoginRequest completes a login that requires a second factor
type VerifyLoginRequest struct {
	SessionToken string `json:"session_token" validate:"required,max=128"`
	Code         string `json:"code" validate:"required,max=20"`
}
