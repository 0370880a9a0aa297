package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/custodia/internal/handlers"
	"github.com/BradenHooton/custodia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTwoFactorHandler(svc *mockTwoFactorService) *handlers.TwoFactorHandler {
	return handlers.NewTwoFactorHandler(svc, discardLogger())
}

// ============================================================================
// Authentication Guard Tests
// ============================================================================

func TestTwoFactorHandler_RequiresAuthentication(t *testing.T) {
	h := newTwoFactorHandler(&mockTwoFactorService{})

	endpoints := map[string]http.HandlerFunc{
		"setup":   h.Setup,
		"enable":  h.Enable,
		"disable": h.Disable,
		"verify":  h.Verify,
		"status":  h.Status,
	}

	for name, fn := range endpoints {
		t.Run(name, func(t *testing.T) {
			req := newTestRequest(t, http.MethodPost, "/2fa/"+name, handlers.TwoFactorCodeRequest{Code: "123456"})
			w := httptest.NewRecorder()
			fn(w, req)

			assertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// ============================================================================
// Setup Tests
// ============================================================================

func TestSetup_Success(t *testing.T) {
	var gotLabel string
	svc := &mockTwoFactorService{
		SetupFunc: func(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error) {
			gotLabel = accountLabel
			return &models.TwoFactorSetup{
				Secret:          "JBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/Custodia:holder@example.com?secret=JBSWY3DPEHPK3PXP",
				QRCode:          "data:image/png;base64,AAAA",
				BackupCodes:     []string{"ABCD2345", "EFGH6789"},
			}, nil
		},
	}

	req := newTestRequest(t, http.MethodPost, "/2fa/setup", handlers.TwoFactorSetupRequest{AccountLabel: " phone "})
	req = withAuthContext(req, testUserID, "holder@example.com")
	w := httptest.NewRecorder()
	newTwoFactorHandler(svc).Setup(w, req)

	var resp handlers.TwoFactorSetupResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))
	assert.Len(t, resp.BackupCodes, 2)
	assert.Equal(t, "phone", gotLabel)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestSetup_EmptyBody(t *testing.T) {
	called := false
	svc := &mockTwoFactorService{
		SetupFunc: func(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error) {
			called = true
			assert.Empty(t, accountLabel)
			return &models.TwoFactorSetup{Secret: "S"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/2fa/setup", http.NoBody)
	req = withAuthContext(req, testUserID, "holder@example.com")
	w := httptest.NewRecorder()
	newTwoFactorHandler(svc).Setup(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestSetup_AlreadyEnabled(t *testing.T) {
	svc := &mockTwoFactorService{
		SetupFunc: func(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error) {
			return nil, models.ErrTwoFactorAlreadyEnabled
		},
	}

	req := withAuthContext(newTestRequest(t, http.MethodPost, "/2fa/setup", nil), testUserID, "holder@example.com")
	w := httptest.NewRecorder()
	newTwoFactorHandler(svc).Setup(w, req)

	assertErrorResponse(t, w, http.StatusConflict, "two_factor_already_enabled")
}

// ============================================================================
// Enable / Disable Tests
// ============================================================================

func TestEnable(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusOK, ""},
		{"invalid code", models.ErrInvalidCode, http.StatusUnauthorized, "invalid_code"},
		{"not provisioned", models.ErrTwoFactorSetupRequired, http.StatusConflict, "two_factor_setup_required"},
		{"storage failure", fmt.Errorf("%w: timeout", models.ErrStorageFailure), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCode string
			svc := &mockTwoFactorService{
				EnableFunc: func(ctx context.Context, userID, code string) error {
					gotCode = code
					return tt.err
				},
			}

			req := newTestRequest(t, http.MethodPost, "/2fa/enable", handlers.TwoFactorCodeRequest{Code: "123456"})
			req = withAuthContext(req, testUserID, "holder@example.com")
			w := httptest.NewRecorder()
			newTwoFactorHandler(svc).Enable(w, req)

			if tt.err != nil {
				assertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
				return
			}

			var resp handlers.TwoFactorStateResponse
			assertJSONResponse(t, w, http.StatusOK, &resp)
			assert.True(t, resp.Enabled)
			assert.Equal(t, "123456", gotCode)
		})
	}
}

func TestEnable_MissingCode(t *testing.T) {
	svc := &mockTwoFactorService{
		EnableFunc: func(ctx context.Context, userID, code string) error {
			t.Fatal("service must not be called")
			return nil
		},
	}

	req := newTestRequest(t, http.MethodPost, "/2fa/enable", handlers.TwoFactorCodeRequest{})
	req = withAuthContext(req, testUserID, "holder@example.com")
	w := httptest.NewRecorder()
	newTwoFactorHandler(svc).Enable(w, req)

	assertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestDisable(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"success", nil, http.StatusOK, ""},
		{"invalid code", models.ErrInvalidCode, http.StatusUnauthorized, "invalid_code"},
		{"not enabled", models.ErrTwoFactorNotEnabled, http.StatusConflict, "two_factor_not_enabled"},
		{"unknown user", models.ErrNotFound, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTwoFactorService{
				DisableFunc: func(ctx context.Context, userID, code string) error {
					assert.Equal(t, testUserID, userID)
					return tt.err
				},
			}

			req := newTestRequest(t, http.MethodPost, "/2fa/disable", handlers.TwoFactorCodeRequest{Code: "ABCD2345"})
			req = withAuthContext(req, testUserID, "holder@example.com")
			w := httptest.NewRecorder()
			newTwoFactorHandler(svc).Disable(w, req)

			if tt.err != nil {
				assertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
				return
			}

			var resp handlers.TwoFactorStateResponse
			assertJSONResponse(t, w, http.StatusOK, &resp)
			assert.False(t, resp.Enabled)
		})
	}
}

// ============================================================================
// Verify / Status Tests
// ============================================================================

func TestVerify(t *testing.T) {
	for _, valid := range []bool{true, false} {
		svc := &mockTwoFactorService{
			VerifyFunc: func(ctx context.Context, userID, code string) bool { return valid },
		}

		req := newTestRequest(t, http.MethodPost, "/2fa/verify", handlers.TwoFactorCodeRequest{Code: "123456"})
		req = withAuthContext(req, testUserID, "holder@example.com")
		w := httptest.NewRecorder()
		newTwoFactorHandler(svc).Verify(w, req)

		var resp handlers.TwoFactorVerifyResponse
		assertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, valid, resp.Valid)
	}
}

func TestStatus(t *testing.T) {
	svc := &mockTwoFactorService{
		GetStatusFunc: func(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
			return &models.TwoFactorStatus{
				Enabled:              true,
				State:                models.TwoFactorStateEnabled,
				RemainingBackupCodes: 7,
			}, nil
		},
	}

	req := withAuthContext(httptest.NewRequest(http.MethodGet, "/2fa/status", nil), testUserID, "holder@example.com")
	w := httptest.NewRecorder()
	newTwoFactorHandler(svc).Status(w, req)

	var resp map[string]any
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, true, resp["enabled"])
	assert.Equal(t, "enabled", resp["state"])
	assert.EqualValues(t, 7, resp["remaining_backup_codes"])
	assert.NotContains(t, resp, "secret")
}

func TestStatus_Failure(t *testing.T) {
	svc := &mockTwoFactorService{
		GetStatusFunc: func(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
			return nil, errors.New("boom")
		},
	}

	req := withAuthContext(httptest.NewRequest(http.MethodGet, "/2fa/status", nil), testUserID, "holder@example.com")
	w := httptest.NewRecorder()
	newTwoFactorHandler(svc).Status(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}
