package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/models"
	pkgauth "github.com/BradenHooton/custodia/pkg/auth"
	pkglogger "github.com/BradenHooton/custodia/pkg/logger"
)

// UserRepository defines the user lookups the login flow needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// TwoFactorVerifier is the slice of TwoFactorService used during login
type TwoFactorVerifier interface {
	VerifyRequired(ctx context.Context, userID, code string) error
}

// PendingSessions is the slice of PendingSessionManager used during login
type PendingSessions interface {
	CreateWithTTL(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error)
	Resolve(ctx context.Context, token string) (string, bool)
	Consume(ctx context.Context, token string) (string, bool)
	TTL() time.Duration
}

// AuthService handles password login and the second-factor step that follows it
type AuthService struct {
	repo        UserRepository
	twoFactor   TwoFactorVerifier
	sessions    PendingSessions
	tm          *auth.TokenManager
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo UserRepository,
	twoFactor TwoFactorVerifier,
	sessions PendingSessions,
	tm *auth.TokenManager,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		repo:        repo,
		twoFactor:   twoFactor,
		sessions:    sessions,
		tm:          tm,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	CreatedAt        string `json:"created_at"`
}

// LoginResult is either a finished login carrying an access token, or a
// request for the second factor carrying a pending session token
type LoginResult struct {
	AccessToken          string        `json:"access_token,omitempty"`
	AccessTokenExpiresAt *time.Time    `json:"access_token_expires_at,omitempty"`
	User                 *UserResponse `json:"user,omitempty"`

	TwoFactorRequired bool       `json:"two_factor_required"`
	SessionToken      string     `json:"session_token,omitempty"`
	SessionExpiresAt  *time.Time `json:"session_expires_at,omitempty"`
}

// Login checks the password. Users with 2FA enabled get a pending session
// instead of an access token.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	start := time.Now()

	if email = strings.ToLower(strings.TrimSpace(email)); email == "" {
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.CompareDummyPassword(password)
			s.logger.Info("login failed: invalid credentials")
			s.auditLogin(pkglogger.EventLoginPassword, "", ipAddress, "invalid_credentials")
			s.timing.WaitFrom(start, false)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials", slog.String("user_id", user.ID))
		s.auditLogin(pkglogger.EventLoginPassword, user.ID, ipAddress, "invalid_credentials")
		s.timing.WaitFrom(start, false)
		return nil, models.ErrUnauthorized
	}

	s.auditLogin(pkglogger.EventLoginPassword, user.ID, ipAddress, "")

	if user.TwoFactorEnabled {
		token, expiresAt, err := s.sessions.CreateWithTTL(ctx, user.ID, s.sessions.TTL())
		if err != nil {
			s.logger.Error("failed to create pending login session", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.logger.Info("password accepted, second factor required", slog.String("user_id", user.ID))
		s.timing.WaitFrom(start, true)
		return &LoginResult{
			TwoFactorRequired: true,
			SessionToken:      token,
			SessionExpiresAt:  &expiresAt,
		}, nil
	}

	result, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.timing.WaitFrom(start, true)
	return result, nil
}

// VerifyLogin completes a login with the pending session token and a TOTP
// or backup code. The session is consumed before any access token is
// issued, so neither the session nor the code can be replayed.
func (s *AuthService) VerifyLogin(ctx context.Context, sessionToken, code, ipAddress string) (*LoginResult, error) {
	start := time.Now()

	userID, ok := s.sessions.Resolve(ctx, sessionToken)
	if !ok {
		s.auditLogin(pkglogger.EventLoginSecondFactor, "", ipAddress, "session_expired")
		s.timing.WaitFrom(start, false)
		return nil, models.ErrSessionExpired
	}

	if err := s.twoFactor.VerifyRequired(ctx, userID, code); err != nil {
		if errors.Is(err, models.ErrStorageFailure) {
			s.logger.Error("second factor check failed", slog.String("user_id", userID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.auditLogin(pkglogger.EventLoginSecondFactor, userID, ipAddress, "invalid_code")
		s.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCode
	}

	consumedBy, ok := s.sessions.Consume(ctx, sessionToken)
	if !ok || consumedBy != userID {
		// another request finished this login first
		s.auditLogin(pkglogger.EventLoginSecondFactor, userID, ipAddress, "session_consumed")
		s.timing.WaitFrom(start, false)
		return nil, models.ErrSessionExpired
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to load user after second factor", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	result, err := s.issueAccessToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in with second factor", slog.String("user_id", user.ID))
	s.auditLogin(pkglogger.EventLoginSecondFactor, user.ID, ipAddress, "")
	s.timing.WaitFrom(start, true)
	return result, nil
}

// Register creates a user account; used to bootstrap seed users
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*UserResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.repo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
		Name:         name,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)))

	return userModelToResponse(user), nil
}

func (s *AuthService) issueAccessToken(user *models.User) (*LoginResult, error) {
	accessToken, expiresAt, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &LoginResult{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: &expiresAt,
		User:                 userModelToResponse(user),
	}, nil
}

func (s *AuthService) auditLogin(eventType, userID, ipAddress, failureReason string) {
	s.auditLogger.LogLoginEvent(pkglogger.AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		IPAddress:     ipAddress,
		Success:       failureReason == "",
		FailureReason: failureReason,
	})
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt.Format(time.RFC3339),
	}
}
