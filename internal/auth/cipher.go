package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/BradenHooton/custodia/internal/models"
)

// EncryptionKeySize is the required AES-256 key length in bytes
const EncryptionKeySize = 32

// SecretCipher encrypts 2FA material at rest using AES-256-GCM.
// Blob format: base64(nonce || ciphertext || tag).
type SecretCipher struct {
	aead cipher.AEAD
}

// NewSecretCipher creates a cipher bound to a 32-byte key
func NewSecretCipher(key []byte) (*SecretCipher, error) {
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", EncryptionKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &SecretCipher{aead: aead}, nil
}

// ParseEncryptionKey decodes a base64 encoded key and checks its length
func ParseEncryptionKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", EncryptionKeySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce
func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed or tampered
// input yields an error wrapping models.ErrDecryptionFailure.
func (c *SecretCipher) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", models.ErrDecryptionFailure)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: blob too short", models.ErrDecryptionFailure)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", models.ErrDecryptionFailure)
	}

	return string(plaintext), nil
}
