package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/greenbasket/gatehouse/internal/database"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmailVerificationRepository handles storage of email verification tokens
type EmailVerificationRepository struct {
	pool *pgxpool.Pool
}

func NewEmailVerificationRepository(db *database.DB) *EmailVerificationRepository {
	return &EmailVerificationRepository{pool: db.Pool}
}

func (r *EmailVerificationRepository) Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error) {
	token := &models.EmailVerificationToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO email_verification_tokens (id, user_id, token_hash, email, expires_at, created_at)
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

func (r *EmailVerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	query := `
		SELECT id, user_id, token_hash, email, expires_at, used_at, created_at
		FROM email_verification_tokens WHERE token_hash = $1
	`

	var token models.EmailVerificationToken
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
// concurrent verification requests.
func (r *EmailVerificationRepository) MarkAsUsed(ctx context.Context, id string) error {
	query := `UPDATE email_verification_tokens SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *EmailVerificationRepository) DeleteByUserID(ctx context.Context, userID string) error {
	query := `DELETE FROM email_verification_tokens WHERE user_id = $1`
	_, err := r.pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}

func (r *EmailVerificationRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM email_verification_tokens WHERE expires_at < NOW()`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
