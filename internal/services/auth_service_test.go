package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/services"
	pkgauth "github.com/greenbasket/gatehouse/pkg/auth"
	"github.com/greenbasket/gatehouse/pkg/logger"
)

const testLoginPassword = "Rutabaga!2024"

var (
	testPasswordHashOnce sync.Once
	testPasswordHash     string
)

// hashing at cost 14 is slow, do it once for the whole package
func testHashedPassword(t *testing.T) string {
	t.Helper()
	testPasswordHashOnce.Do(func() {
		hash, err := pkgauth.HashPassword(testLoginPassword)
		if err != nil {
			t.Fatalf("failed to hash test password: %v", err)
		}
		testPasswordHash = hash
	})
	return testPasswordHash
}

type mockAuthUserStore struct {
	users     map[string]*models.User // keyed by email
	createErr error
}

func newMockAuthUserStore() *mockAuthUserStore {
	return &mockAuthUserStore{users: make(map[string]*models.User)}
}

func (m *mockAuthUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := m.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (m *mockAuthUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockAuthUserStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	if _, exists := m.users[user.Email]; exists {
		return nil, models.ErrConflict
	}
	user.ID = uuid.New().String()
	m.users[user.Email] = user
	return user, nil
}

type mockSecurityGate struct {
	store      *mockAuthUserStore
	checkErr   error
	resetErr   error
	resetCalls []models.ResetScope
}

func (m *mockSecurityGate) CheckTemporarySuspension(ctx context.Context, email, _ string) (*models.SecurityDecision, error) {
	if m.checkErr != nil {
		return &models.SecurityDecision{Allowed: false, Reason: models.ReasonInternalError}, m.checkErr
	}

	user, err := m.store.GetByEmail(ctx, email)
	if err != nil {
		return &models.SecurityDecision{Allowed: false, Reason: models.ReasonUserNotFound}, nil
	}

	if user.IsSuspended(time.Now()) {
		return &models.SecurityDecision{
			Allowed:          false,
			Reason:           models.ReasonSuspended,
			SuspensionEnd:    user.SuspensionUntil,
			SuspensionReason: user.SuspensionReason,
		}, nil
	}

	return &models.SecurityDecision{Allowed: true, User: user}, nil
}

func (m *mockSecurityGate) ResetAttempts(_ context.Context, _ string, scope models.ResetScope, _ string) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resetCalls = append(m.resetCalls, scope)
	return nil
}

type mockRevocationStore struct {
	revoked   map[string]bool
	revokeErr error
	checkErr  error
}

func newMockRevocationStore() *mockRevocationStore {
	return &mockRevocationStore{revoked: make(map[string]bool)}
}

func (m *mockRevocationStore) RevokeToken(_ context.Context, jti, _, _ string, _ time.Time, _ string) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	m.revoked[jti] = true
	return nil
}

func (m *mockRevocationStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.revoked[jti], nil
}

type authServiceFixture struct {
	svc         *services.AuthService
	users       *mockAuthUserStore
	gate        *mockSecurityGate
	revocations *mockRevocationStore
	tokens      *auth.TokenManager
}

func newAuthServiceFixture() *authServiceFixture {
	users := newMockAuthUserStore()
	gate := &mockSecurityGate{store: users}
	revocations := newMockRevocationStore()
	tokens := auth.NewTokenManager("test-secret-key-long-enough", 15*time.Minute, 7*24*time.Hour, "gatehouse-test")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := services.NewAuthService(
		users, gate, tokens, revocations,
		auth.NewTimingDelay(0, 0),
		logger.NewAuditLogger(log), log,
	)

	return &authServiceFixture{svc: svc, users: users, gate: gate, revocations: revocations, tokens: tokens}
}

func (f *authServiceFixture) addActiveUser(t *testing.T, email string) *models.User {
	user := &models.User{
		ID:            uuid.New().String(),
		Email:         email,
		PasswordHash:  testHashedPassword(t),
		Name:          "Test Shopper",
		EmailVerified: true,
		Role:          models.RoleUser,
		Status:        models.StatusActive,
	}
	f.users.users[email] = user
	return user
}

func TestAuthService_Register(t *testing.T) {
	t.Run("creates account", func(t *testing.T) {
		f := newAuthServiceFixture()

		user, err := f.svc.Register(context.Background(), "new@example.com", "Rutabaga!2024", "New Shopper")
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
		assert.Equal(t, models.RoleUser, user.Role)
		assert.Equal(t, models.StatusActive, user.Status)
		assert.False(t, user.EmailVerified)
		assert.NotEmpty(t, user.PasswordHash)
		assert.NotEqual(t, "Rutabaga!2024", user.PasswordHash)
	})

	t.Run("rejects weak password", func(t *testing.T) {
		f := newAuthServiceFixture()

		_, err := f.svc.Register(context.Background(), "new@example.com", "password", "New Shopper")
		assert.ErrorIs(t, err, models.ErrBadRequest)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		f := newAuthServiceFixture()
		f.addActiveUser(t, "taken@example.com")

		_, err := f.svc.Register(context.Background(), "taken@example.com", "Rutabaga!2024", "Impostor")
		assert.ErrorIs(t, err, models.ErrConflict)
	})
}

func TestAuthService_Login(t *testing.T) {
	t.Run("success issues tokens and clears counters", func(t *testing.T) {
		f := newAuthServiceFixture()
		user := f.addActiveUser(t, "shopper@example.com")

		pair, err := f.svc.Login(context.Background(), "shopper@example.com", testLoginPassword, "203.0.113.9")
		require.NoError(t, err)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.Equal(t, user.ID, pair.User.ID)

		require.Len(t, f.gate.resetCalls, 1)
		assert.Equal(t, models.ResetScopeAll, f.gate.resetCalls[0])

		claims, err := f.tokens.ValidateToken(pair.AccessToken, auth.TokenTypeAccess)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newAuthServiceFixture()
		f.addActiveUser(t, "shopper@example.com")

		_, err := f.svc.Login(context.Background(), "shopper@example.com", "WrongPassword!1", "")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
		assert.Empty(t, f.gate.resetCalls)
	})

	t.Run("unknown email looks like wrong password", func(t *testing.T) {
		f := newAuthServiceFixture()

		_, err := f.svc.Login(context.Background(), "ghost@example.com", testLoginPassword, "")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("suspended account is refused before credentials", func(t *testing.T) {
		f := newAuthServiceFixture()
		user := f.addActiveUser(t, "shopper@example.com")
		until := time.Now().Add(time.Hour)
		user.SuspensionUntil = &until
		user.SuspensionReason = "suspicious activity"
		user.Status = models.StatusSuspended

		_, err := f.svc.Login(context.Background(), "shopper@example.com", testLoginPassword, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrAccountSuspended)

		var suspErr *models.SuspensionError
		require.ErrorAs(t, err, &suspErr)
		assert.True(t, suspErr.Until.Equal(until))
	})

	t.Run("inactive account", func(t *testing.T) {
		f := newAuthServiceFixture()
		user := f.addActiveUser(t, "shopper@example.com")
		user.Status = models.StatusInactive

		_, err := f.svc.Login(context.Background(), "shopper@example.com", testLoginPassword, "")
		assert.ErrorIs(t, err, models.ErrAccountInactive)
	})

	t.Run("gate failure fails closed", func(t *testing.T) {
		f := newAuthServiceFixture()
		f.addActiveUser(t, "shopper@example.com")
		f.gate.checkErr = errors.New("connection refused")

		_, err := f.svc.Login(context.Background(), "shopper@example.com", testLoginPassword, "")
		require.Error(t, err)
	})
}

func TestAuthService_RefreshToken(t *testing.T) {
	login := func(t *testing.T, f *authServiceFixture) *services.TokenPair {
		t.Helper()
		f.addActiveUser(t, "shopper@example.com")
		pair, err := f.svc.Login(context.Background(), "shopper@example.com", testLoginPassword, "")
		require.NoError(t, err)
		return pair
	}

	t.Run("rotates the pair", func(t *testing.T) {
		f := newAuthServiceFixture()
		pair := login(t, f)

		rotated, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, rotated.AccessToken)
		assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

		// The spent refresh token is dead
		_, err = f.svc.RefreshToken(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		f := newAuthServiceFixture()
		pair := login(t, f)

		_, err := f.svc.RefreshToken(context.Background(), pair.AccessToken)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("password change invalidates earlier tokens", func(t *testing.T) {
		f := newAuthServiceFixture()
		pair := login(t, f)

		changed := time.Now().Add(time.Second)
		f.users.users["shopper@example.com"].PasswordChangedAt = &changed

		_, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("suspension blocks refresh", func(t *testing.T) {
		f := newAuthServiceFixture()
		pair := login(t, f)

		until := time.Now().Add(time.Hour)
		f.users.users["shopper@example.com"].SuspensionUntil = &until

		_, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, models.ErrAccountSuspended)
	})

	t.Run("revocation store failure fails closed", func(t *testing.T) {
		f := newAuthServiceFixture()
		pair := login(t, f)
		f.revocations.checkErr = errors.New("connection refused")

		_, err := f.svc.RefreshToken(context.Background(), pair.RefreshToken)
		assert.ErrorIs(t, err, models.ErrInternalServer)
	})
}

func TestAuthService_Logout(t *testing.T) {
	f := newAuthServiceFixture()
	f.addActiveUser(t, "shopper@example.com")
	pair, err := f.svc.Login(context.Background(), "shopper@example.com", testLoginPassword, "")
	require.NoError(t, err)

	claims, err := f.tokens.ValidateToken(pair.AccessToken, auth.TokenTypeAccess)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), claims))

	revoked, err := f.revocations.IsTokenRevoked(context.Background(), claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
}
