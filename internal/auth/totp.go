package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpSkew       = 1
	totpSecretSize = 20
	qrCodeSize     = 256

	BackupCodeLength = 8
)

// backupCodeCharset has exactly 32 symbols (no 0/O, 1/I) so byte&31 is uniform
const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var totpValidateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew, // ±1 time step
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPManager handles TOTP key generation, provisioning images and validation
type TOTPManager struct {
	issuer string // Issuer name for TOTP QR codes
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: issuer}
}

// Issuer returns the issuer label embedded in provisioning URIs
func (tm *TOTPManager) Issuer() string {
	return tm.issuer
}

// GenerateKey creates a new random TOTP secret bound to accountLabel
func (tm *TOTPManager) GenerateKey(accountLabel string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountLabel,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// QRCodeDataURL renders a provisioning URI as a PNG data URL
func (tm *TOTPManager) QRCodeDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ValidateCode checks a 6-digit code against secret at the given instant.
// Codes from one step before or after are accepted for clock drift.
func (tm *TOTPManager) ValidateCode(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, at, totpValidateOpts)
	if err != nil {
		return false
	}
	return valid
}

// GenerateCode returns the code for secret at t
func (tm *TOTPManager) GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totpValidateOpts)
}

// GenerateBackupCodes generates count distinct random backup codes
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	buf := make([]byte, BackupCodeLength)
	for len(codes) < count {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}

		code := make([]byte, BackupCodeLength)
		for i, b := range buf {
			code[i] = backupCodeCharset[b&31]
		}

		s := string(code)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		codes = append(codes, s)
	}

	return codes, nil
}

// NormalizeBackupCode canonicalizes user input for comparison
func NormalizeBackupCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}
