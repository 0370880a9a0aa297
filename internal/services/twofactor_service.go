package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/models"
	pkglogger "github.com/BradenHooton/custodia/pkg/logger"
)

// maxBackupCodeAttempts bounds the optimistic retry loop when another
// request rewrote the backup-code set between our read and write.
const maxBackupCodeAttempts = 3

// TwoFactorStore is the persistence the two-factor service needs.
// The conditional methods return models.ErrConflict when their
// precondition no longer holds.
type TwoFactorStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SaveTwoFactorSecret(ctx context.Context, userID, secretEnc, codesEnc string) error
	EnableTwoFactor(ctx context.Context, userID, secretEnc string) error
	DisableTwoFactor(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID, prevEnc, nextEnc string) error
}

// SecretEncrypter is the encryption-at-rest contract for 2FA material
type SecretEncrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// TwoFactorService provisions, verifies, enables and disables TOTP 2FA
type TwoFactorService struct {
	store       TwoFactorStore
	cipher      SecretEncrypter
	totpMgr     *auth.TOTPManager
	notifier    SecurityNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(
	store TwoFactorStore,
	cipher SecretEncrypter,
	totpMgr *auth.TOTPManager,
	notifier SecurityNotifier,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *TwoFactorService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &TwoFactorService{
		store:       store,
		cipher:      cipher,
		totpMgr:     totpMgr,
		notifier:    notifier,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Setup provisions a fresh secret and backup codes for the user without
// enabling 2FA. Unconfirmed material from an earlier call is replaced.
func (s *TwoFactorService) Setup(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.TwoFactorEnabled {
		return nil, models.ErrTwoFactorAlreadyEnabled
	}

	if accountLabel == "" {
		accountLabel = user.Email
	}

	key, err := s.totpMgr.GenerateKey(accountLabel)
	if err != nil {
		s.logger.Error("failed to generate TOTP key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	qrCode, err := s.totpMgr.QRCodeDataURL(key.URL())
	if err != nil {
		s.logger.Error("failed to render provisioning QR code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	backupCodes, err := s.totpMgr.GenerateBackupCodes(models.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	secretEnc, err := s.cipher.Encrypt(key.Secret())
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codesEnc, err := s.encryptBackupCodes(backupCodes)
	if err != nil {
		s.logger.Error("failed to encrypt backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.store.SaveTwoFactorSecret(ctx, userID, secretEnc, codesEnc); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrTwoFactorAlreadyEnabled
		}
		s.logger.Error("failed to persist TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, storageError(err)
	}

	s.logger.Info("two-factor setup initiated", slog.String("user_id", userID))
	s.auditLogger.LogTwoFactorEvent(pkglogger.AuditEvent{
		EventType: pkglogger.EventTwoFactorSetup,
		UserID:    userID,
		Success:   true,
	})

	return &models.TwoFactorSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qrCode,
		BackupCodes:     backupCodes,
	}, nil
}

// Verify reports whether code satisfies the user's second factor.
// Users without 2FA enabled pass; any failure to read or decrypt the
// stored factors fails closed.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) bool {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to load user for 2FA verification", slog.String("user_id", userID), slog.Any("error", err))
		}
		return false
	}

	if !user.TwoFactorEnabled {
		return true
	}

	ok, err := s.matchFactor(ctx, user, code)
	if err != nil {
		s.logger.Error("two-factor verification failed", slog.String("user_id", userID), slog.Any("error", err))
		return false
	}

	s.auditVerify(userID, ok)
	return ok
}

// VerifyRequired always demands a real TOTP or backup code. It returns
// ErrTwoFactorSetupRequired when nothing is provisioned and ErrInvalidCode
// when the code does not match.
func (s *TwoFactorService) VerifyRequired(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.verifyUser(ctx, user, code)
}

func (s *TwoFactorService) verifyUser(ctx context.Context, user *models.User, code string) error {
	if !user.HasTwoFactorSecret() {
		return models.ErrTwoFactorSetupRequired
	}

	ok, err := s.matchFactor(ctx, user, code)
	if err != nil {
		return err
	}

	s.auditVerify(user.ID, ok)
	if !ok {
		return models.ErrInvalidCode
	}
	return nil
}

// Enable turns on 2FA once the user proves possession of the provisioned secret
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.verifyUser(ctx, user, code); err != nil {
		s.auditTransition(pkglogger.EventTwoFactorEnable, userID, err)
		return err
	}

	// the flag only flips if the secret we verified is still the stored one
	if err := s.store.EnableTwoFactor(ctx, userID, *user.TOTPSecretEncrypted); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.auditTransition(pkglogger.EventTwoFactorEnable, userID, models.ErrInvalidCode)
			return models.ErrInvalidCode
		}
		s.logger.Error("failed to enable 2FA", slog.String("user_id", userID), slog.Any("error", err))
		return storageError(err)
	}

	s.logger.Info("two-factor authentication enabled", slog.String("user_id", userID))
	s.auditTransition(pkglogger.EventTwoFactorEnable, userID, nil)
	s.notify(ctx, user, true)
	return nil
}

// Disable turns off 2FA and purges the secret and backup codes
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if !user.TwoFactorEnabled {
		return models.ErrTwoFactorNotEnabled
	}

	if err := s.verifyUser(ctx, user, code); err != nil {
		if errors.Is(err, models.ErrTwoFactorSetupRequired) {
			err = models.ErrInvalidCode
		}
		s.auditTransition(pkglogger.EventTwoFactorDisable, userID, err)
		return err
	}

	if err := s.store.DisableTwoFactor(ctx, userID); err != nil {
		if errors.Is(err, models.ErrTwoFactorNotEnabled) {
			return models.ErrTwoFactorNotEnabled
		}
		s.logger.Error("failed to disable 2FA", slog.String("user_id", userID), slog.Any("error", err))
		return storageError(err)
	}

	s.logger.Info("two-factor authentication disabled", slog.String("user_id", userID))
	s.auditTransition(pkglogger.EventTwoFactorDisable, userID, nil)
	s.notify(ctx, user, false)
	return nil
}

// GetStatus reports the 2FA state and how many backup codes remain.
// Unreadable backup codes count as zero.
func (s *TwoFactorService) GetStatus(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	remaining := 0
	if user.BackupCodesEncrypted != nil {
		codes, err := s.decryptBackupCodes(*user.BackupCodesEncrypted)
		if err != nil {
			s.logger.Warn("stored backup codes unreadable", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			remaining = len(codes)
		}
	}

	return &models.TwoFactorStatus{
		Enabled:              user.TwoFactorEnabled,
		State:                user.TwoFactorState(),
		RemainingBackupCodes: remaining,
	}, nil
}

// matchFactor tries the TOTP first, then the backup codes. A secret that
// cannot be decrypted is a non-match, never a pass.
func (s *TwoFactorService) matchFactor(ctx context.Context, user *models.User, code string) (bool, error) {
	if !user.HasTwoFactorSecret() {
		return false, nil
	}

	secret, err := s.cipher.Decrypt(*user.TOTPSecretEncrypted)
	if err != nil {
		s.logger.Error("stored TOTP secret unreadable", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, nil
	}

	if s.totpMgr.ValidateCode(secret, code, s.now()) {
		return true, nil
	}

	return s.consumeBackupCode(ctx, user, code)
}

// consumeBackupCode removes code from the stored set with a compare-and-swap
// on the ciphertext, so two requests presenting the same code cannot both win.
func (s *TwoFactorService) consumeBackupCode(ctx context.Context, user *models.User, code string) (bool, error) {
	candidate := auth.NormalizeBackupCode(code)
	if len(candidate) != auth.BackupCodeLength {
		return false, nil
	}

	for attempt := 1; attempt <= maxBackupCodeAttempts; attempt++ {
		if user.BackupCodesEncrypted == nil {
			return false, nil
		}
		prevEnc := *user.BackupCodesEncrypted

		codes, err := s.decryptBackupCodes(prevEnc)
		if err != nil {
			s.logger.Error("stored backup codes unreadable", slog.String("user_id", user.ID), slog.Any("error", err))
			return false, nil
		}

		idx := indexOfCode(codes, candidate)
		if idx < 0 {
			return false, nil
		}

		remaining := make([]string, 0, len(codes)-1)
		remaining = append(remaining, codes[:idx]...)
		remaining = append(remaining, codes[idx+1:]...)

		nextEnc, err := s.encryptBackupCodes(remaining)
		if err != nil {
			return false, fmt.Errorf("failed to encrypt backup codes: %w", err)
		}

		err = s.store.ReplaceBackupCodes(ctx, user.ID, prevEnc, nextEnc)
		if err == nil {
			s.logger.Info("backup code consumed",
				slog.String("user_id", user.ID),
				slog.Int("remaining", len(remaining)))
			return true, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return false, storageError(err)
		}

		s.logger.Debug("backup code set changed concurrently, retrying",
			slog.String("user_id", user.ID),
			slog.Int("attempt", attempt))

		user, err = s.store.GetByID(ctx, user.ID)
		if err != nil {
			return false, storageError(err)
		}
	}

	s.logger.Warn("backup code consumption gave up after repeated conflicts", slog.String("user_id", user.ID))
	return false, nil
}

func indexOfCode(codes []string, candidate string) int {
	found := -1
	for i, c := range codes {
		// no early exit so timing does not reveal the position
		if subtle.ConstantTimeCompare([]byte(c), []byte(candidate)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}

func (s *TwoFactorService) encryptBackupCodes(codes []string) (string, error) {
	raw, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return s.cipher.Encrypt(string(raw))
}

func (s *TwoFactorService) decryptBackupCodes(blob string) ([]string, error) {
	plaintext, err := s.cipher.Decrypt(blob)
	if err != nil {
		return nil, err
	}

	var codes []string
	if err := json.Unmarshal([]byte(plaintext), &codes); err != nil {
		return nil, fmt.Errorf("%w: malformed backup code set", models.ErrDecryptionFailure)
	}
	return codes, nil
}

func (s *TwoFactorService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, storageError(err)
	}
	return user, nil
}

func (s *TwoFactorService) notify(ctx context.Context, user *models.User, enabled bool) {
	if err := s.notifier.NotifyTwoFactorChanged(ctx, user.Email, enabled); err != nil {
		s.logger.Warn("failed to send 2FA change notification",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}
}

func (s *TwoFactorService) auditVerify(userID string, ok bool) {
	event := pkglogger.AuditEvent{
		EventType: pkglogger.EventTwoFactorVerify,
		UserID:    userID,
		Success:   ok,
	}
	if !ok {
		event.FailureReason = "invalid_code"
	}
	s.auditLogger.LogTwoFactorEvent(event)
}

func (s *TwoFactorService) auditTransition(eventType, userID string, err error) {
	event := pkglogger.AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Success:   err == nil,
	}
	if err != nil {
		event.FailureReason = err.Error()
	}
	s.auditLogger.LogTwoFactorEvent(event)
}

// storageError tags err as a storage failure unless it already is one
func storageError(err error) error {
	if errors.Is(err, models.ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
}
