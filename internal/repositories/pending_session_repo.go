package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/custodia/internal/database"
	"github.com/BradenHooton/custodia/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PendingSessionRepository persists pending login sessions in PostgreSQL
type PendingSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPendingSessionRepository(db *database.DB) *PendingSessionRepository {
	return &PendingSessionRepository{pool: db.Pool}
}

func (r *PendingSessionRepository) Create(ctx context.Context, session *models.PendingLoginSession) error {
	query := `
		INSERT INTO pending_login_sessions (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query, session.ID, session.UserID, session.CreatedAt, session.ExpiresAt)
	return database.MapPostgresError(err)
}

func (r *PendingSessionRepository) Get(ctx context.Context, id string) (*models.PendingLoginSession, error) {
	query := `
		SELECT id, user_id, created_at, expires_at
		FROM pending_login_sessions WHERE id = $1
	`

	var s models.PendingLoginSession
	if err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Consume deletes and returns the session in one statement if it has not
// expired at now. Only one caller can ever receive a given session.
func (r *PendingSessionRepository) Consume(ctx context.Context, id string, now time.Time) (*models.PendingLoginSession, error) {
	query := `
		DELETE FROM pending_login_sessions
		WHERE id = $1 AND expires_at > $2
		RETURNING id, user_id, created_at, expires_at
	`

	var s models.PendingLoginSession
	if err := r.pool.QueryRow(ctx, query, id, now).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *PendingSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pending_login_sessions WHERE id = $1`, id)
	return database.MapPostgresError(err)
}

func (r *PendingSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM pending_login_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
