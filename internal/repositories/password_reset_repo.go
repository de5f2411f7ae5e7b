package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/greenbasket/gatehouse/internal/database"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository handles storage of password reset tokens
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

func (r *PasswordResetRepository) Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	token := &models.PasswordResetToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, email, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.Email, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return token, nil
}

func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, email, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1
	`

	var token models.PasswordResetToken
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Email,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// MarkAsUsed stamps used_at; the guard keeps a token single-use even under
// concurrent reset submissions.
func (r *PasswordResetRepository) MarkAsUsed(ctx context.Context, id string) error {
	query := `UPDATE password_reset_tokens SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *PasswordResetRepository) DeleteByUserID(ctx context.Context, userID string) error {
	query := `DELETE FROM password_reset_tokens WHERE user_id = $1`
	_, err := r.pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}

func (r *PasswordResetRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE expires_at < NOW()`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
