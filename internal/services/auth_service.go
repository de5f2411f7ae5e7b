package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/models"
	pkgauth "github.com/greenbasket/gatehouse/pkg/auth"
	"github.com/greenbasket/gatehouse/pkg/logger"
)

// AuthUserStore is the account surface needed for authentication
type AuthUserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// SecurityGate is the slice of the security façade the auth flow consults
type SecurityGate interface {
	CheckTemporarySuspension(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error)
	ResetAttempts(ctx context.Context, accountID string, scope models.ResetScope, actorID string) error
}

// TokenRevocationStore is the refresh token blacklist
type TokenRevocationStore interface {
	RevokeToken(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenPair is the result of a successful authentication
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	User         *models.User
}

// AuthService handles registration, login, and token lifecycle
type AuthService struct {
	users       AuthUserStore
	security    SecurityGate
	tokens      *auth.TokenManager
	revocations TokenRevocationStore
	timing      *auth.TimingDelay
	audit       *logger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

func NewAuthService(users AuthUserStore, security SecurityGate, tokens *auth.TokenManager, revocations TokenRevocationStore, timing *auth.TimingDelay, audit *logger.AuditLogger, log *slog.Logger) *AuthService {
	return &AuthService{
		users:       users,
		security:    security,
		tokens:      tokens,
		revocations: revocations,
		timing:      timing,
		audit:       audit,
		logger:      log,
		now:         time.Now,
	}
}

// Register creates a new account with an unverified email
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, models.ErrInternalServer
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Role:         models.RoleUser,
		Status:       models.StatusActive,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login authenticates a user. The suspension gate runs before the password
// is even compared; a locked account is refused regardless of credentials.
func (s *AuthService) Login(ctx context.Context, email, password, clientIP string) (*TokenPair, error) {
	decision, err := s.security.CheckTemporarySuspension(ctx, email, clientIP)
	if err != nil {
		return nil, err
	}

	if !decision.Allowed {
		if decision.Reason == models.ReasonSuspended && decision.SuspensionEnd != nil {
			s.logAuth(email, clientIP, false, models.ReasonSuspended)
			return nil, &models.SuspensionError{Until: *decision.SuspensionEnd, Reason: decision.SuspensionReason}
		}

		// Unknown account: pad the response so the missing bcrypt compare
		// does not show up as a faster reply.
		s.timing.Delay()
		s.logAuth(email, clientIP, false, models.ReasonUserNotFound)
		return nil, models.ErrUnauthorized
	}

	user := decision.User
	if user.Status == models.StatusInactive {
		s.logAuth(email, clientIP, false, "account_inactive")
		return nil, models.ErrAccountInactive
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logAuth(email, clientIP, false, "invalid_credentials")
		return nil, models.ErrUnauthorized
	}

	// A correct credential proves the owner is in control; prior denials
	// were plausibly their own retries.
	if err := s.security.ResetAttempts(ctx, user.ID, models.ResetScopeAll, user.ID); err != nil {
		s.logger.Warn("failed to clear counters after login",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.logAuth(email, clientIP, true, "")
	return pair, nil
}

// RefreshToken rotates a refresh token into a new token pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateToken(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("revocation check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrInternalServer
	}

	// Tokens issued before the last password change are dead
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil && user.PasswordChangedAt.After(claims.IssuedAt.Time) {
		return nil, models.ErrUnauthorized
	}

	now := s.now()
	if user.IsSuspended(now) {
		return nil, &models.SuspensionError{Until: *user.SuspensionUntil, Reason: user.SuspensionReason}
	}
	if user.Status == models.StatusInactive {
		return nil, models.ErrAccountInactive
	}

	// Rotate: the old refresh token is spent
	if claims.ExpiresAt != nil {
		if err := s.revocations.RevokeToken(ctx, claims.ID, user.ID, auth.TokenTypeRefresh, claims.ExpiresAt.Time, "rotated"); err != nil {
			s.logger.Warn("failed to revoke rotated refresh token",
				slog.String("user_id", user.ID),
				slog.Any("error", err))
		}
	}

	return s.issueTokens(user)
}

// Logout revokes the presented tokens
func (s *AuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	expiresAt := s.now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if err := s.revocations.RevokeToken(ctx, claims.ID, claims.UserID, claims.Type, expiresAt, "logout"); err != nil {
		s.logger.Error("failed to revoke token on logout",
			slog.String("user_id", claims.UserID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("logged out", slog.String("user_id", claims.UserID))
	return nil
}

func (s *AuthService) issueTokens(user *models.User) (*TokenPair, error) {
	accessToken, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tokens.GenerateRefreshToken(user)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}

func (s *AuthService) logAuth(email, clientIP string, success bool, reason string) {
	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType:    "login",
		Email:        logger.SanitizedEmail(email),
		IPAddress:    clientIP,
		Success:      success,
		DenialReason: reason,
	})
}
