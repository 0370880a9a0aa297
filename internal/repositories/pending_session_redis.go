package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/custodia/internal/models"
	"github.com/redis/go-redis/v9"
)

const pendingSessionKeyPrefix = "pending_session:"

// RedisPendingSessionStore keeps pending sessions as JSON values whose
// native TTL matches the session expiry.
type RedisPendingSessionStore struct {
	client redis.Cmdable
}

func NewRedisPendingSessionStore(client redis.Cmdable) *RedisPendingSessionStore {
	return &RedisPendingSessionStore{client: client}
}

func pendingSessionKey(id string) string {
	return pendingSessionKeyPrefix + id
}

func (s *RedisPendingSessionStore) Create(ctx context.Context, session *models.PendingLoginSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", models.ErrBadRequest)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, pendingSessionKey(session.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	if !ok {
		return models.ErrConflict
	}
	return nil
}

func (s *RedisPendingSessionStore) Get(ctx context.Context, id string) (*models.PendingLoginSession, error) {
	payload, err := s.client.Get(ctx, pendingSessionKey(id)).Bytes()
	if err != nil {
		return nil, mapRedisError(err)
	}
	return decodePendingSession(id, payload)
}

// Consume atomically removes the key with GETDEL and returns the session
// if it is still valid at now.
func (s *RedisPendingSessionStore) Consume(ctx context.Context, id string, now time.Time) (*models.PendingLoginSession, error) {
	payload, err := s.client.GetDel(ctx, pendingSessionKey(id)).Bytes()
	if err != nil {
		return nil, mapRedisError(err)
	}

	session, err := decodePendingSession(id, payload)
	if err != nil {
		return nil, err
	}
	if !session.IsValidAt(now) {
		return nil, models.ErrNotFound
	}
	return session, nil
}

func (s *RedisPendingSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, pendingSessionKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisPendingSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func decodePendingSession(id string, payload []byte) (*models.PendingLoginSession, error) {
	var session models.PendingLoginSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("%w: corrupt session payload", models.ErrStorageFailure)
	}
	session.ID = id
	return &session, nil
}

func mapRedisError(err error) error {
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
}
