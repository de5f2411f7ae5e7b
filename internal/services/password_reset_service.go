package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenbasket/gatehouse/internal/models"
	pkgauth "github.com/greenbasket/gatehouse/pkg/auth"
)

// PasswordResetStore defines the reset token storage operations
type PasswordResetStore interface {
	Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.PasswordResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	MarkAsUsed(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// ResetUserStore is the account surface needed for password resets
type ResetUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	ResetSecurityCounters(ctx context.Context, userID string, scope models.ResetScope, now time.Time) error
}

// PasswordResetService issues and redeems forgot-password tokens. The
// security façade gates issuance; redemption is gated by token possession.
type PasswordResetService struct {
	tokens      PasswordResetStore
	users       ResetUserStore
	email       EmailSender
	logger      *slog.Logger
	tokenExpiry time.Duration
	now         func() time.Time
}

func NewPasswordResetService(tokens PasswordResetStore, users ResetUserStore, email EmailSender, log *slog.Logger, tokenExpiry time.Duration) *PasswordResetService {
	return &PasswordResetService{
		tokens:      tokens,
		users:       users,
		email:       email,
		logger:      log,
		tokenExpiry: tokenExpiry,
		now:         time.Now,
	}
}

// SendResetEmail issues a fresh single-use token and emails the reset link.
// Older tokens for the user are invalidated so only one link is live.
func (s *PasswordResetService) SendResetEmail(ctx context.Context, userID, email string) error {
	plain, hash, err := generateSecureToken()
	if err != nil {
		return err
	}

	if err := s.tokens.DeleteByUserID(ctx, userID); err != nil {
		s.logger.Warn("failed to delete old reset tokens",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}

	expiresAt := s.now().Add(s.tokenExpiry)
	if _, err := s.tokens.Create(ctx, userID, hash, email, expiresAt); err != nil {
		s.logger.Error("failed to create reset token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to create token: %w", err)
	}

	if err := s.email.SendPasswordResetEmail(ctx, email, plain, expiresAt); err != nil {
		return err
	}

	s.logger.Info("password reset email queued", slog.String("user_id", userID))
	return nil
}

// ResetPassword redeems a token and sets the new password. Invalid, expired,
// and reused tokens all fail with the same error. Returns the account id.
func (s *PasswordResetService) ResetPassword(ctx context.Context, plainToken, newPassword string) (string, error) {
	if plainToken == "" {
		return "", models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	sum := sha256.Sum256([]byte(plainToken))
	token, err := s.tokens.GetByTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrUnauthorized
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if !token.IsValid(s.now()) {
		s.logger.Info("rejected reset token",
			slog.String("token_id", token.ID),
			slog.Bool("used", token.IsUsed()),
			slog.Bool("expired", token.IsExpired(s.now())))
		return "", models.ErrUnauthorized
	}

	// Consume the token before touching the password so a concurrent
	// redemption cannot set two different passwords from one link.
	if err := s.tokens.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return "", models.ErrUnauthorized
		}
		s.logger.Error("failed to mark reset token used",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		return "", models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, token.UserID, passwordHash, s.now()); err != nil {
		s.logger.Error("failed to update password",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	// A completed reset restarts the forgot-password window; the account
	// holder has proven control of the mailbox
	if err := s.users.ResetSecurityCounters(ctx, token.UserID, models.ResetScopePassword, s.now()); err != nil {
		s.logger.Warn("failed to clear forgot-password window after reset",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
	}

	s.logger.Info("password reset completed", slog.String("user_id", token.UserID))
	return token.UserID, nil
}
