package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/services"
	pkghttp "github.com/greenbasket/gatehouse/pkg/http"
)

// NewTestRequest creates an HTTP request with a JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to the request context
func WithAuthContext(req *http.Request, userID, email, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:   auth.TokenTypeAccess,
		UserID: userID,
		Email:  email,
		Role:   role,
	}
	return req.WithContext(auth.ContextWithUser(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to the request context
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks status and decodes the JSON body into target
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that the response is an error with the given code
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc     func(ctx context.Context, email, password, name string) (*models.User, error)
	LoginFunc        func(ctx context.Context, email, password, clientIP string) (*services.TokenPair, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	LogoutFunc       func(ctx context.Context, claims *models.TokenClaims) error
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, name)
}

func (m *MockAuthService) Login(ctx context.Context, email, password, clientIP string) (*services.TokenPair, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, clientIP)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims)
}

// MockSecurityChecker implements SecurityCheckerInterface and
// SecurityAdminInterface for testing
type MockSecurityChecker struct {
	CheckVerificationFunc func(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error)
	CheckForgotFunc       func(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error)
	GetSecurityStatusFunc func(ctx context.Context, email string) (*models.SecurityStatus, error)
	ResetAttemptsFunc     func(ctx context.Context, accountID string, scope models.ResetScope, actorID string) error
}

func (m *MockSecurityChecker) CheckVerificationEmailLimits(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error) {
	if m.CheckVerificationFunc == nil {
		return &models.SecurityDecision{Allowed: false, Reason: models.ReasonUserNotFound}, nil
	}
	return m.CheckVerificationFunc(ctx, email, clientIP)
}

func (m *MockSecurityChecker) CheckForgotPasswordLimits(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error) {
	if m.CheckForgotFunc == nil {
		return &models.SecurityDecision{Allowed: false, Reason: models.ReasonUserNotFound}, nil
	}
	return m.CheckForgotFunc(ctx, email, clientIP)
}

func (m *MockSecurityChecker) GetSecurityStatus(ctx context.Context, email string) (*models.SecurityStatus, error) {
	if m.GetSecurityStatusFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetSecurityStatusFunc(ctx, email)
}

func (m *MockSecurityChecker) ResetAttempts(ctx context.Context, accountID string, scope models.ResetScope, actorID string) error {
	if m.ResetAttemptsFunc == nil {
		return nil
	}
	return m.ResetAttemptsFunc(ctx, accountID, scope, actorID)
}

// MockEmailVerification implements EmailVerificationInterface for testing
type MockEmailVerification struct {
	SendVerificationEmailFunc func(ctx context.Context, userID, email string) error
	VerifyEmailFunc           func(ctx context.Context, plainToken string) (string, error)

	SentTo []string
}

func (m *MockEmailVerification) SendVerificationEmail(ctx context.Context, userID, email string) error {
	if m.SendVerificationEmailFunc != nil {
		if err := m.SendVerificationEmailFunc(ctx, userID, email); err != nil {
			return err
		}
	}
	m.SentTo = append(m.SentTo, email)
	return nil
}

func (m *MockEmailVerification) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if m.VerifyEmailFunc == nil {
		return "", models.ErrUnauthorized
	}
	return m.VerifyEmailFunc(ctx, plainToken)
}

// MockPasswordReset implements PasswordResetInterface for testing
type MockPasswordReset struct {
	SendResetEmailFunc func(ctx context.Context, userID, email string) error
	ResetPasswordFunc  func(ctx context.Context, plainToken, newPassword string) (string, error)

	SentTo []string
}

func (m *MockPasswordReset) SendResetEmail(ctx context.Context, userID, email string) error {
	if m.SendResetEmailFunc != nil {
		if err := m.SendResetEmailFunc(ctx, userID, email); err != nil {
			return err
		}
	}
	m.SentTo = append(m.SentTo, email)
	return nil
}

func (m *MockPasswordReset) ResetPassword(ctx context.Context, plainToken, newPassword string) (string, error) {
	if m.ResetPasswordFunc == nil {
		return "", models.ErrUnauthorized
	}
	return m.ResetPasswordFunc(ctx, plainToken, newPassword)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	GetDashboardStatsFunc func(ctx context.Context) (*services.DashboardStatsResponse, error)
	GetRecentActivityFunc func(ctx context.Context, limit int) (*services.DashboardActivityResponse, error)
}

func (m *MockAdminService) GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error) {
	if m.GetDashboardStatsFunc == nil {
		return &services.DashboardStatsResponse{}, nil
	}
	return m.GetDashboardStatsFunc(ctx)
}

func (m *MockAdminService) GetRecentActivity(ctx context.Context, limit int) (*services.DashboardActivityResponse, error) {
	if m.GetRecentActivityFunc == nil {
		return &services.DashboardActivityResponse{}, nil
	}
	return m.GetRecentActivityFunc(ctx, limit)
}
