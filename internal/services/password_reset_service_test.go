package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/services"
	pkgauth "github.com/greenbasket/gatehouse/pkg/auth"
)

type mockResetTokenStore struct {
	tokens map[string]*models.PasswordResetToken // keyed by hash
}

func newMockResetTokenStore() *mockResetTokenStore {
	return &mockResetTokenStore{tokens: make(map[string]*models.PasswordResetToken)}
}

func (m *mockResetTokenStore) Create(_ context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	token := &models.PasswordResetToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		Email:     email,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	m.tokens[tokenHash] = token
	return token, nil
}

func (m *mockResetTokenStore) GetByTokenHash(_ context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	token, ok := m.tokens[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	return token, nil
}

func (m *mockResetTokenStore) MarkAsUsed(_ context.Context, id string) error {
	for _, t := range m.tokens {
		if t.ID == id {
			if t.UsedAt != nil {
				return models.ErrConflict
			}
			now := time.Now()
			t.UsedAt = &now
			return nil
		}
	}
	return models.ErrConflict
}

func (m *mockResetTokenStore) DeleteByUserID(_ context.Context, userID string) error {
	for hash, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, hash)
		}
	}
	return nil
}

type mockResetUserStore struct {
	passwords map[string]string            // userID -> hash
	changedAt map[string]time.Time         // userID -> stamp
	resets    map[string]models.ResetScope // userID -> last scope
}

func newMockResetUserStore() *mockResetUserStore {
	return &mockResetUserStore{
		passwords: make(map[string]string),
		changedAt: make(map[string]time.Time),
		resets:    make(map[string]models.ResetScope),
	}
}

func (m *mockResetUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	return &models.User{ID: id, PasswordHash: m.passwords[id]}, nil
}

func (m *mockResetUserStore) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	m.passwords[id] = passwordHash
	m.changedAt[id] = changedAt
	return nil
}

func (m *mockResetUserStore) ResetSecurityCounters(_ context.Context, userID string, scope models.ResetScope, _ time.Time) error {
	m.resets[userID] = scope
	return nil
}

func newResetFixture(expiry time.Duration) (*services.PasswordResetService, *mockResetTokenStore, *mockResetUserStore, *mockEmailSender) {
	tokens := newMockResetTokenStore()
	users := newMockResetUserStore()
	email := &mockEmailSender{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := services.NewPasswordResetService(tokens, users, email, log, expiry)
	return svc, tokens, users, email
}

func TestPasswordResetService_RoundTrip(t *testing.T) {
	svc, _, users, email := newResetFixture(time.Hour)
	userID := uuid.New().String()

	require.NoError(t, svc.SendResetEmail(context.Background(), userID, "shopper@example.com"))
	require.Len(t, email.resetTokens, 1)

	resetID, err := svc.ResetPassword(context.Background(), email.resetTokens[0], "FreshCarrot!9")
	require.NoError(t, err)
	assert.Equal(t, userID, resetID)

	assert.NoError(t, pkgauth.ComparePassword(users.passwords[userID], "FreshCarrot!9"))
	assert.False(t, users.changedAt[userID].IsZero())
	assert.Equal(t, models.ResetScopePassword, users.resets[userID], "completed reset should restart the forgot-password window")
}

func TestPasswordResetService_ResetPassword_Rejections(t *testing.T) {
	t.Run("weak replacement password", func(t *testing.T) {
		svc, _, users, email := newResetFixture(time.Hour)
		userID := uuid.New().String()
		require.NoError(t, svc.SendResetEmail(context.Background(), userID, "shopper@example.com"))

		_, err := svc.ResetPassword(context.Background(), email.resetTokens[0], "weak")
		assert.ErrorIs(t, err, models.ErrBadRequest)
		assert.Empty(t, users.passwords[userID])
	})

	t.Run("unknown token", func(t *testing.T) {
		svc, _, _, _ := newResetFixture(time.Hour)
		_, err := svc.ResetPassword(context.Background(), "bogus", "FreshCarrot!9")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("token is single use", func(t *testing.T) {
		svc, _, _, email := newResetFixture(time.Hour)
		userID := uuid.New().String()
		require.NoError(t, svc.SendResetEmail(context.Background(), userID, "shopper@example.com"))

		_, err := svc.ResetPassword(context.Background(), email.resetTokens[0], "FreshCarrot!9")
		require.NoError(t, err)

		_, err = svc.ResetPassword(context.Background(), email.resetTokens[0], "OtherVeggie!3")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		svc, _, users, email := newResetFixture(-time.Minute)
		userID := uuid.New().String()
		require.NoError(t, svc.SendResetEmail(context.Background(), userID, "shopper@example.com"))

		_, err := svc.ResetPassword(context.Background(), email.resetTokens[0], "FreshCarrot!9")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
		assert.Empty(t, users.passwords[userID])
	})
}

func TestPasswordResetService_NewRequestInvalidatesOldLink(t *testing.T) {
	svc, _, _, email := newResetFixture(time.Hour)
	userID := uuid.New().String()

	require.NoError(t, svc.SendResetEmail(context.Background(), userID, "shopper@example.com"))
	require.NoError(t, svc.SendResetEmail(context.Background(), userID, "shopper@example.com"))
	require.Len(t, email.resetTokens, 2)

	_, err := svc.ResetPassword(context.Background(), email.resetTokens[0], "FreshCarrot!9")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = svc.ResetPassword(context.Background(), email.resetTokens[1], "FreshCarrot!9")
	assert.NoError(t, err)
}
