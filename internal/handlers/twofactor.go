package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/models"
	pkghttp "github.com/BradenHooton/custodia/pkg/http"
)

// TwoFactorServiceInterface defines the 2FA operations exposed over HTTP
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error)
	Verify(ctx context.Context, userID, code string) bool
	Enable(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, code string) error
	GetStatus(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
}

// TwoFactorHandler handles 2FA management for the authenticated user
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	logger  *slog.Logger
}

// NewTwoFactorHandler creates a new 2FA handler
func NewTwoFactorHandler(service TwoFactorServiceInterface, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{
		service: service,
		logger:  logger,
	}
}

// Setup handles POST /2fa/setup
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	// the body is optional
	var req TwoFactorSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	setup, err := h.service.Setup(r.Context(), user.UserID, strings.TrimSpace(req.AccountLabel))
	if err != nil {
		h.logger.Warn("2FA setup failed", slog.String("user_id", user.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorSetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCode:          setup.QRCode,
		BackupCodes:     setup.BackupCodes,
	})
}

// Enable handles POST /2fa/enable
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	user, req, ok := h.decodeCodeRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Enable(r.Context(), user.UserID, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorStateResponse{
		Enabled: true,
		Message: "Two-factor authentication has been enabled",
	})
}

// Disable handles POST /2fa/disable
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	user, req, ok := h.decodeCodeRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Disable(r.Context(), user.UserID, req.Code); err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorStateResponse{
		Enabled: false,
		Message: "Two-factor authentication has been disabled",
	})
}

// Verify handles POST /2fa/verify. Users without 2FA always verify.
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user, req, ok := h.decodeCodeRequest(w, r)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorVerifyResponse{
		Valid: h.service.Verify(r.Context(), user.UserID, req.Code),
	})
}

// Status handles GET /2fa/status
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	status, err := h.service.GetStatus(r.Context(), user.UserID)
	if err != nil {
		h.logger.Error("failed to get 2FA status", slog.String("user_id", user.UserID), slog.Any("error", err))
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

func (h *TwoFactorHandler) decodeCodeRequest(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, *TwoFactorCodeRequest, bool) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return nil, nil, false
	}

	var req TwoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return nil, nil, false
	}

	req.Code = strings.TrimSpace(req.Code)
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return nil, nil, false
	}

	return user, &req, true
}
