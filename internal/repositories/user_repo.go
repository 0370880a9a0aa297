package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/custodia/internal/database"
	"github.com/BradenHooton/custodia/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, password_hash, name, totp_secret_encrypted, two_factor_enabled, backup_codes_encrypted, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name,
		&user.TOTPSecretEncrypted, &user.TwoFactorEnabled, &user.BackupCodesEncrypted,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, password_hash, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.CreatedAt, user.UpdatedAt,
	))
}

// SaveTwoFactorSecret stores freshly provisioned material in one statement.
// Users with 2FA already enabled are left untouched and ErrConflict is returned.
func (r *UserRepository) SaveTwoFactorSecret(ctx context.Context, userID, secretEnc, codesEnc string) error {
	query := `
		UPDATE users
		SET totp_secret_encrypted = $2, backup_codes_encrypted = $3, updated_at = NOW()
		WHERE id = $1 AND two_factor_enabled = FALSE
	`

	result, err := r.pool.Exec(ctx, query, userID, secretEnc, codesEnc)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return r.missingOr(ctx, userID, models.ErrConflict)
	}

	return nil
}

// EnableTwoFactor sets the flag only while the stored secret is still the
// one the caller verified against; otherwise ErrConflict.
func (r *UserRepository) EnableTwoFactor(ctx context.Context, userID, secretEnc string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND totp_secret_encrypted = $2
	`

	result, err := r.pool.Exec(ctx, query, userID, secretEnc)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return r.missingOr(ctx, userID, models.ErrConflict)
	}

	return nil
}

// DisableTwoFactor clears the flag, the secret and the backup codes together.
// Returns ErrTwoFactorNotEnabled when the flag was already false.
func (r *UserRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = FALSE, totp_secret_encrypted = NULL, backup_codes_encrypted = NULL, updated_at = NOW()
		WHERE id = $1 AND two_factor_enabled = TRUE
	`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return r.missingOr(ctx, userID, models.ErrTwoFactorNotEnabled)
	}

	return nil
}

// ReplaceBackupCodes swaps the encrypted code set only if it still equals
// prevEnc. A concurrent writer makes this return ErrConflict.
func (r *UserRepository) ReplaceBackupCodes(ctx context.Context, userID, prevEnc, nextEnc string) error {
	query := `
		UPDATE users
		SET backup_codes_encrypted = $3, updated_at = NOW()
		WHERE id = $1 AND backup_codes_encrypted = $2
	`

	result, err := r.pool.Exec(ctx, query, userID, prevEnc, nextEnc)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return r.missingOr(ctx, userID, models.ErrConflict)
	}

	return nil
}

// missingOr returns ErrNotFound when the user does not exist, otherwise fallback
func (r *UserRepository) missingOr(ctx context.Context, userID string, fallback error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return fallback
}
