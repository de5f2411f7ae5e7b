package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenbasket/gatehouse/internal/models"
)

// EmailVerificationStore defines the token storage operations
type EmailVerificationStore interface {
	Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	MarkAsUsed(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// VerificationUserStore is the account surface needed for verification
type VerificationUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id string) error
}

// EmailVerificationService issues and redeems email confirmation tokens.
// Rate limiting lives in the security façade; this service only runs after
// an allowed decision.
type EmailVerificationService struct {
	tokens      EmailVerificationStore
	users       VerificationUserStore
	email       EmailSender
	logger      *slog.Logger
	tokenExpiry time.Duration
	now         func() time.Time
}

func NewEmailVerificationService(tokens EmailVerificationStore, users VerificationUserStore, email EmailSender, log *slog.Logger, tokenExpiry time.Duration) *EmailVerificationService {
	return &EmailVerificationService{
		tokens:      tokens,
		users:       users,
		email:       email,
		logger:      log,
		tokenExpiry: tokenExpiry,
		now:         time.Now,
	}
}

// generateSecureToken returns a URL-safe random token and its SHA-256 hex
// hash. Only the hash is stored; possession of the plain token is the proof.
func generateSecureToken() (plain, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}

	plain = base64.URLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(plain))
	return plain, hex.EncodeToString(sum[:]), nil
}

// SendVerificationEmail issues a fresh token for the user and emails the
// confirmation link. Any older tokens for the user are invalidated first.
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, userID, email string) error {
	plain, hash, err := generateSecureToken()
	if err != nil {
		return err
	}

	if err := s.tokens.DeleteByUserID(ctx, userID); err != nil {
		s.logger.Warn("failed to delete old verification tokens",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	expiresAt := s.now().Add(s.tokenExpiry)
	if _, err := s.tokens.Create(ctx, userID, hash, email, expiresAt); err != nil {
		s.logger.Error("failed to create verification token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to create token: %w", err)
	}

	if err := s.email.SendVerificationEmail(ctx, email, plain, expiresAt); err != nil {
		return err
	}

	s.logger.Info("verification email queued", slog.String("user_id", userID))
	return nil
}

// VerifyEmail redeems a token and marks the account's email as verified.
// Invalid, expired, and reused tokens all fail with the same error.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if plainToken == "" {
		return "", models.ErrUnauthorized
	}

	sum := sha256.Sum256([]byte(plainToken))
	token, err := s.tokens.GetByTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrUnauthorized
		}
		s.logger.Error("failed to look up verification token", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if !token.IsValid(s.now()) {
		s.logger.Info("rejected verification token",
			slog.String("token_id", token.ID),
			slog.Bool("used", token.IsUsed()),
			slog.Bool("expired", token.IsExpired(s.now())))
		return "", models.ErrUnauthorized
	}

	if err := s.tokens.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a race with a concurrent redemption of the same token
			return "", models.ErrUnauthorized
		}
		s.logger.Error("failed to mark verification token used",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if err := s.users.MarkEmailVerified(ctx, token.UserID); err != nil {
		s.logger.Error("failed to mark email verified",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.logger.Info("email verified", slog.String("user_id", token.UserID))
	return token.UserID, nil
}
