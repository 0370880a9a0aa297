package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/custodia/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestSessionManager() (*PendingSessionManager, *memSessionStore, *fakeClock) {
	store := newMemSessionStore()
	clock := &fakeClock{t: testNow}
	m := NewPendingSessionManager(store, 0, discardLogger())
	m.now = clock.Now
	return m, store, clock
}

func TestPendingSessionManager_DefaultTTL(t *testing.T) {
	m, _, _ := newTestSessionManager()
	assert.Equal(t, 15*time.Minute, m.TTL())

	custom := NewPendingSessionManager(newMemSessionStore(), 5*time.Minute, discardLogger())
	assert.Equal(t, 5*time.Minute, custom.TTL())
}

func TestPendingSessionManager_CreateAndResolve(t *testing.T) {
	m, store, _ := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	userID, ok := m.Resolve(ctx, token)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	// only the hash is stored
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.sessions, 1)
	for id, s := range store.sessions {
		assert.NotEqual(t, token, id)
		assert.Equal(t, hashSessionToken(token), id)
		assert.Equal(t, testNow, s.CreatedAt)
		assert.Equal(t, testNow.Add(15*time.Minute), s.ExpiresAt)
	}
}

func TestPendingSessionManager_TokensAreUnique(t *testing.T) {
	m, _, _ := newTestSessionManager()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, err := m.Create(context.Background(), "user-1")
		require.NoError(t, err)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestPendingSessionManager_ExpiryBoundary(t *testing.T) {
	m, _, clock := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)

	clock.Advance(14*time.Minute + 59*time.Second)
	_, ok := m.Resolve(ctx, token)
	assert.True(t, ok, "valid at 14:59")

	clock.Advance(time.Second)
	_, ok = m.Resolve(ctx, token)
	assert.False(t, ok, "expired at exactly the ttl")

	clock.Advance(time.Minute)
	_, ok = m.Resolve(ctx, token)
	assert.False(t, ok, "expired at 15:01")
}

func TestPendingSessionManager_CreateWithTTL(t *testing.T) {
	m, _, clock := newTestSessionManager()
	ctx := context.Background()

	token, expiresAt, err := m.CreateWithTTL(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Minute), expiresAt)

	clock.Advance(61 * time.Second)
	_, ok := m.Resolve(ctx, token)
	assert.False(t, ok)

	_, _, err = m.CreateWithTTL(ctx, "user-1", 0)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestPendingSessionManager_CreateStorageFailure(t *testing.T) {
	m, store, _ := newTestSessionManager()
	store.err = errors.New("connection refused")

	token, err := m.Create(context.Background(), "user-1")

	assert.Empty(t, token)
	assert.ErrorIs(t, err, models.ErrStorageFailure)
}

func TestPendingSessionManager_ResolveNeverFails(t *testing.T) {
	m, store, _ := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)

	_, ok := m.Resolve(ctx, "")
	assert.False(t, ok)

	_, ok = m.Resolve(ctx, "unknown-token")
	assert.False(t, ok)

	store.err = errors.New("connection refused")
	userID, ok := m.Resolve(ctx, token)
	assert.False(t, ok)
	assert.Empty(t, userID)
}

func TestPendingSessionManager_ClearIsIdempotent(t *testing.T) {
	m, _, _ := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)

	assert.NoError(t, m.Clear(ctx, token))
	assert.NoError(t, m.Clear(ctx, token))
	assert.NoError(t, m.Clear(ctx, "never-issued"))
	assert.NoError(t, m.Clear(ctx, ""))

	_, ok := m.Resolve(ctx, token)
	assert.False(t, ok)
}

func TestPendingSessionManager_ConsumeIsSingleUse(t *testing.T) {
	m, _, _ := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)

	userID, ok := m.Consume(ctx, token)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	_, ok = m.Consume(ctx, token)
	assert.False(t, ok)

	_, ok = m.Resolve(ctx, token)
	assert.False(t, ok)
}

func TestPendingSessionManager_ConsumeExpired(t *testing.T) {
	m, _, clock := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	_, ok := m.Consume(ctx, token)
	assert.False(t, ok)
}

func TestPendingSessionManager_ConcurrentConsumeHasOneWinner(t *testing.T) {
	m, _, _ := newTestSessionManager()
	ctx := context.Background()

	token, err := m.Create(ctx, "user-1")
	require.NoError(t, err)

	const callers = 8
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.Consume(ctx, token); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestPendingSessionManager_SweepExpired(t *testing.T) {
	m, store, clock := newTestSessionManager()
	ctx := context.Background()

	_, err := m.Create(ctx, "user-1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "user-2")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	live, err := m.Create(ctx, "user-3")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, int64(2), m.SweepExpired(ctx))
	assert.Equal(t, 1, store.count())

	userID, ok := m.Resolve(ctx, live)
	assert.True(t, ok)
	assert.Equal(t, "user-3", userID)

	assert.Equal(t, int64(0), m.SweepExpired(ctx))
}

func TestPendingSessionManager_SweepExpiredStorageFailure(t *testing.T) {
	m, store, _ := newTestSessionManager()
	store.err = errors.New("connection refused")

	assert.Equal(t, int64(0), m.SweepExpired(context.Background()))
}
