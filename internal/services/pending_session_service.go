package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/custodia/internal/models"
)

const (
	// DefaultPendingSessionTTL is how long a password-verified login waits for its second factor
	DefaultPendingSessionTTL = 15 * time.Minute

	sessionTokenBytes = 32
)

// PendingSessionStore persists pending login sessions keyed by token hash
type PendingSessionStore interface {
	Create(ctx context.Context, session *models.PendingLoginSession) error
	Get(ctx context.Context, id string) (*models.PendingLoginSession, error)
	Consume(ctx context.Context, id string, now time.Time) (*models.PendingLoginSession, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PendingSessionManager issues and resolves the short-lived sessions that
// bridge a successful password check and the 2FA step. Only the SHA-256 of
// a token is ever stored.
type PendingSessionManager struct {
	store  PendingSessionStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewPendingSessionManager creates a manager; ttl <= 0 selects the default
func NewPendingSessionManager(store PendingSessionStore, ttl time.Duration, logger *slog.Logger) *PendingSessionManager {
	if ttl <= 0 {
		ttl = DefaultPendingSessionTTL
	}
	return &PendingSessionManager{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// TTL returns the lifetime given to new sessions
func (m *PendingSessionManager) TTL() time.Duration {
	return m.ttl
}

// Create issues a new session for userID using the configured TTL
func (m *PendingSessionManager) Create(ctx context.Context, userID string) (string, error) {
	token, _, err := m.CreateWithTTL(ctx, userID, m.ttl)
	return token, err
}

// CreateWithTTL issues a new session and returns its opaque token and expiry
func (m *PendingSessionManager) CreateWithTTL(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", models.ErrBadRequest)
	}

	token, err := generateSessionToken()
	if err != nil {
		m.logger.Error("failed to generate session token", slog.Any("error", err))
		return "", time.Time{}, models.ErrInternalServer
	}

	now := m.now()
	session := &models.PendingLoginSession{
		ID:        hashSessionToken(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := m.store.Create(ctx, session); err != nil {
		m.logger.Error("failed to persist pending login session",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return "", time.Time{}, storageError(err)
	}

	m.logger.Debug("pending login session created",
		slog.String("user_id", userID),
		slog.Time("expires_at", session.ExpiresAt))

	return token, session.ExpiresAt, nil
}

// Resolve returns the user behind token while the session is unexpired.
// Every failure, including storage errors, resolves to ("", false).
func (m *PendingSessionManager) Resolve(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	session, err := m.store.Get(ctx, hashSessionToken(token))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			m.logger.Warn("pending session lookup failed", slog.Any("error", err))
		}
		return "", false
	}

	if !session.IsValidAt(m.now()) {
		return "", false
	}
	return session.UserID, true
}

// Consume atomically reads and deletes the session. Of several concurrent
// callers holding the same token, at most one gets ok == true.
func (m *PendingSessionManager) Consume(ctx context.Context, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	session, err := m.store.Consume(ctx, hashSessionToken(token), m.now())
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			m.logger.Warn("pending session consume failed", slog.Any("error", err))
		}
		return "", false
	}
	return session.UserID, true
}

// Clear deletes the session; clearing a missing session is not an error
func (m *PendingSessionManager) Clear(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	if err := m.store.Delete(ctx, hashSessionToken(token)); err != nil && !errors.Is(err, models.ErrNotFound) {
		m.logger.Error("failed to clear pending session", slog.Any("error", err))
		return storageError(err)
	}
	return nil
}

// SweepExpired removes sessions past their expiry and returns how many
// were deleted. Failures are logged and reported as zero.
func (m *PendingSessionManager) SweepExpired(ctx context.Context) int64 {
	deleted, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		m.logger.Error("failed to sweep expired pending sessions", slog.Any("error", err))
		return 0
	}
	return deleted
}

func generateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
