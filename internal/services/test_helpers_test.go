package services

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/models"
	pkgauth "github.com/BradenHooton/custodia/pkg/auth"
	pkglogger "github.com/BradenHooton/custodia/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// In-memory user store
// ============================================================================

// memUserStore mirrors the conditional UPDATE semantics of UserRepository
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User

	getErr   error // returned by GetByID/GetByEmail when set
	writeErr error // returned by every mutating call when set

	// readBarrier makes the first barrierReads GetByID calls wait for each other
	readBarrier  *sync.WaitGroup
	barrierReads int
	replaceCalls int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]*models.User)}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.TOTPSecretEncrypted != nil {
		s := *u.TOTPSecretEncrypted
		c.TOTPSecretEncrypted = &s
	}
	if u.BackupCodesEncrypted != nil {
		s := *u.BackupCodesEncrypted
		c.BackupCodesEncrypted = &s
	}
	return &c
}

func (m *memUserStore) put(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = cloneUser(u)
}

func (m *memUserStore) snapshot(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneUser(m.users[id])
}

func (m *memUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	barrier := m.readBarrier
	if barrier != nil && m.barrierReads > 0 {
		m.barrierReads--
	} else {
		barrier = nil
	}
	user, ok := m.users[id]
	err := m.getErr
	var out *models.User
	if ok {
		out = cloneUser(user)
	}
	m.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrNotFound
	}
	return out, nil
}

func (m *memUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return nil, models.ErrConflict
		}
	}
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (m *memUserStore) SaveTwoFactorSecret(ctx context.Context, userID, secretEnc, codesEnc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	if u.TwoFactorEnabled {
		return models.ErrConflict
	}
	u.TOTPSecretEncrypted = &secretEnc
	u.BackupCodesEncrypted = &codesEnc
	return nil
}

func (m *memUserStore) EnableTwoFactor(ctx context.Context, userID, secretEnc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	if u.TOTPSecretEncrypted == nil || *u.TOTPSecretEncrypted != secretEnc {
		return models.ErrConflict
	}
	u.TwoFactorEnabled = true
	return nil
}

func (m *memUserStore) DisableTwoFactor(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	if !u.TwoFactorEnabled {
		return models.ErrTwoFactorNotEnabled
	}
	u.TwoFactorEnabled = false
	u.TOTPSecretEncrypted = nil
	u.BackupCodesEncrypted = nil
	return nil
}

func (m *memUserStore) ReplaceBackupCodes(ctx context.Context, userID, prevEnc, nextEnc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.writeErr != nil {
		return m.writeErr
	}
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	if u.BackupCodesEncrypted == nil || *u.BackupCodesEncrypted != prevEnc {
		return models.ErrConflict
	}
	u.BackupCodesEncrypted = &nextEnc
	return nil
}

// ============================================================================
// In-memory pending session store
// ============================================================================

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.PendingLoginSession
	err      error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*models.PendingLoginSession)}
}

func (m *memSessionStore) Create(ctx context.Context, session *models.PendingLoginSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, exists := m.sessions[session.ID]; exists {
		return models.ErrConflict
	}
	c := *session
	m.sessions[session.ID] = &c
	return nil
}

func (m *memSessionStore) Get(ctx context.Context, id string) (*models.PendingLoginSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *memSessionStore) Consume(ctx context.Context, id string, now time.Time) (*models.PendingLoginSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[id]
	if !ok || !s.IsValidAt(now) {
		return nil, models.ErrNotFound
	}
	delete(m.sessions, id)
	return s, nil
}

func (m *memSessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.sessions, id)
	return nil
}

func (m *memSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for id, s := range m.sessions {
		if !s.IsValidAt(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ============================================================================
// Notifier mock
// ============================================================================

type MockNotifier struct {
	mu    sync.Mutex
	Calls []bool
	Err   error
}

func (m *MockNotifier) NotifyTwoFactorChanged(ctx context.Context, email string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, enabled)
	return m.Err
}

// ============================================================================
// Fixtures
// ============================================================================

// fixed instant 10s into a 30s TOTP step
var testNow = time.Unix(1_760_000_010, 0)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCipher(t *testing.T) *auth.SecretCipher {
	t.Helper()
	key := make([]byte, auth.EncryptionKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := auth.NewSecretCipher(key)
	require.NoError(t, err)
	return c
}

type twoFactorFixture struct {
	svc      *TwoFactorService
	store    *memUserStore
	totp     *auth.TOTPManager
	notifier *MockNotifier
	user     *models.User
}

func newTwoFactorFixture(t *testing.T) *twoFactorFixture {
	t.Helper()
	store := newMemUserStore()
	user := &models.User{
		ID:    uuid.New().String(),
		Email: "holder@example.com",
		Name:  "Wallet Holder",
	}
	store.put(user)

	logger := discardLogger()
	tm := auth.NewTOTPManager("Custodia")
	notifier := &MockNotifier{}
	svc := NewTwoFactorService(store, newTestCipher(t), tm, notifier, logger, pkglogger.NewAuditLogger(logger))
	svc.now = func() time.Time { return testNow }

	return &twoFactorFixture{svc: svc, store: store, totp: tm, notifier: notifier, user: user}
}

// setup provisions 2FA and returns the plaintext material
func (f *twoFactorFixture) setup(t *testing.T) *models.TwoFactorSetup {
	t.Helper()
	result, err := f.svc.Setup(context.Background(), f.user.ID, "")
	require.NoError(t, err)
	return result
}

// enable provisions and enables 2FA
func (f *twoFactorFixture) enable(t *testing.T) *models.TwoFactorSetup {
	t.Helper()
	result := f.setup(t)
	require.NoError(t, f.svc.Enable(context.Background(), f.user.ID, f.code(t, result.Secret, testNow)))
	return result
}

func (f *twoFactorFixture) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := f.totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func hashTestPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := pkgauth.HashPasswordWithCost(password, bcrypt.MinCost)
	require.NoError(t, err)
	return hash
}
