package handlers

import (
	"errors"
	"net/http"

	"github.com/BradenHooton/custodia/internal/models"
	pkghttp "github.com/BradenHooton/custodia/pkg/http"
)

// writeServiceError maps a service sentinel error to its HTTP response.
// Anything unrecognised is reported as an internal error without detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_code", "Invalid verification code")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Login session expired, sign in again")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrTwoFactorSetupRequired):
		pkghttp.WriteError(w, http.StatusConflict, "two_factor_setup_required", "Two-factor authentication has not been set up")
	case errors.Is(err, models.ErrTwoFactorNotEnabled):
		pkghttp.WriteError(w, http.StatusConflict, "two_factor_not_enabled", "Two-factor authentication is not enabled")
	case errors.Is(err, models.ErrTwoFactorAlreadyEnabled):
		pkghttp.WriteError(w, http.StatusConflict, "two_factor_already_enabled", "Two-factor authentication is already enabled")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
