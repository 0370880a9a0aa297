package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/models"
	"github.com/BradenHooton/custodia/internal/services"
	pkghttp "github.com/BradenHooton/custodia/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "6f1c2f0e-3d55-4a8e-9a57-1f5f0b8b2a11"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRequest creates an HTTP request with a JSON body
func newTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withAuthContext adds access token claims as AuthMiddleware would
func withAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// assertJSONResponse checks the status and decodes the JSON body
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// assertErrorResponse checks that the response is a well-formed error
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// ============================================================================
// Mocks
// ============================================================================

// mockAuthService implements handlers.AuthServiceInterface
type mockAuthService struct {
	LoginFunc       func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error)
	VerifyLoginFunc func(ctx context.Context, sessionToken, code, ipAddress string) (*services.LoginResult, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, ipAddress)
}

func (m *mockAuthService) VerifyLogin(ctx context.Context, sessionToken, code, ipAddress string) (*services.LoginResult, error) {
	if m.VerifyLoginFunc == nil {
		return nil, models.ErrSessionExpired
	}
	return m.VerifyLoginFunc(ctx, sessionToken, code, ipAddress)
}

// mockTwoFactorService implements handlers.TwoFactorServiceInterface
type mockTwoFactorService struct {
	SetupFunc     func(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error)
	VerifyFunc    func(ctx context.Context, userID, code string) bool
	EnableFunc    func(ctx context.Context, userID, code string) error
	DisableFunc   func(ctx context.Context, userID, code string) error
	GetStatusFunc func(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
}

func (m *mockTwoFactorService) Setup(ctx context.Context, userID, accountLabel string) (*models.TwoFactorSetup, error) {
	if m.SetupFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.SetupFunc(ctx, userID, accountLabel)
}

func (m *mockTwoFactorService) Verify(ctx context.Context, userID, code string) bool {
	if m.VerifyFunc == nil {
		return false
	}
	return m.VerifyFunc(ctx, userID, code)
}

func (m *mockTwoFactorService) Enable(ctx context.Context, userID, code string) error {
	if m.EnableFunc == nil {
		return nil
	}
	return m.EnableFunc(ctx, userID, code)
}

func (m *mockTwoFactorService) Disable(ctx context.Context, userID, code string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID, code)
}

func (m *mockTwoFactorService) GetStatus(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	if m.GetStatusFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.GetStatusFunc(ctx, userID)
}
