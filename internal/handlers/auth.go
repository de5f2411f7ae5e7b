package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/services"
	pkghttp "github.com/greenbasket/gatehouse/pkg/http"
)

// genericEmailOutcome is the single response body for every outcome of the
// two email-sensitive routes. Unknown email, exhausted window, and active
// suspension are indistinguishable from a successful send.
const genericEmailOutcome = "If an account exists for this email, an email has been sent."

// AuthServiceInterface defines the auth business logic surface
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, name string) (*models.User, error)
	Login(ctx context.Context, email, password, clientIP string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, claims *models.TokenClaims) error
}

// SecurityCheckerInterface is the slice of the security façade the auth
// routes consult before doing anything observable
type SecurityCheckerInterface interface {
	CheckVerificationEmailLimits(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error)
	CheckForgotPasswordLimits(ctx context.Context, email, clientIP string) (*models.SecurityDecision, error)
}

// EmailVerificationInterface issues and redeems verification tokens
type EmailVerificationInterface interface {
	SendVerificationEmail(ctx context.Context, userID, email string) error
	VerifyEmail(ctx context.Context, plainToken string) (string, error)
}

// PasswordResetInterface issues and redeems reset tokens
type PasswordResetInterface interface {
	SendResetEmail(ctx context.Context, userID, email string) error
	ResetPassword(ctx context.Context, plainToken, newPassword string) (string, error)
}

// AuthHandler handles authentication and account security HTTP requests
type AuthHandler struct {
	service       AuthServiceInterface
	security      SecurityCheckerInterface
	verification  EmailVerificationInterface
	passwordReset PasswordResetInterface
	ipConfig      *pkghttp.IPConfig
}

func NewAuthHandler(service AuthServiceInterface, security SecurityCheckerInterface, verification EmailVerificationInterface, passwordReset PasswordResetInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:       service,
		security:      security,
		verification:  verification,
		passwordReset: passwordReset,
		ipConfig:      ipConfig,
	}
}

// Request DTOs

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Response DTOs

type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         UserResponse `json:"user"`
}

func toAuthResponse(pair *services.TokenPair) AuthResponse {
	return AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User: UserResponse{
			ID:            pair.User.ID,
			Email:         pair.User.Email,
			Name:          pair.User.Name,
			Role:          pair.User.Role,
			EmailVerified: pair.User.EmailVerified,
		},
	}
}

// Register handles account creation. The response is identical whether the
// email was new or already taken.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		// Conflicts and password policy failures get the same response as
		// success so registration cannot be used to probe for accounts.
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrBadRequest) {
			writeRegistrationAccepted(w)
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// Best effort; the account exists either way and can request a resend
	_ = h.verification.SendVerificationEmail(r.Context(), user.ID, user.Email)

	writeRegistrationAccepted(w)
}

// Login handles user authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)

	pair, err := h.service.Login(r.Context(), req.Email, req.Password, clientIP)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(pair))
}

// RefreshToken rotates a refresh token into a new pair
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(pair))
}

// Logout revokes the presented access token
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail redeems a verification token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if _, err := h.verification.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired verification link")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email address verified."})
}

// ResendVerification asks for a fresh verification email. Every outcome
// returns the same body; the security decision only controls whether an
// email actually goes out.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)

	decision, err := h.security.CheckVerificationEmailLimits(r.Context(), req.Email, clientIP)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if decision.Allowed && !decision.User.EmailVerified {
		if err := h.verification.SendVerificationEmail(r.Context(), decision.User.ID, decision.User.Email); err != nil {
			// The attempt was spent either way; the caller learns the
			// send failed without learning anything about the account
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	writeGenericEmailOutcome(w)
}

// ForgotPassword asks for a password reset email. Same response discipline
// as ResendVerification.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)

	decision, err := h.security.CheckForgotPasswordLimits(r.Context(), req.Email, clientIP)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if decision.Allowed {
		if err := h.passwordReset.SendResetEmail(r.Context(), decision.User.ID, decision.User.Email); err != nil {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	writeGenericEmailOutcome(w)
}

// ResetPassword redeems a reset token and sets the new password. Possession
// of a valid token already proves account existence, so errors here can be
// specific.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if _, err := h.passwordReset.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid or expired reset link")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset."})
}

// writeLoginError maps auth service errors for login and refresh. A live
// suspension is the only denial that carries detail.
func writeLoginError(w http.ResponseWriter, err error) {
	var suspErr *models.SuspensionError
	if errors.As(err, &suspErr) {
		until := suspErr.Until
		pkghttp.WriteRetryAfter(w, "account_suspended", "Account temporarily suspended. Please try again later.", &until)
		return
	}

	switch {
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrAccountInactive):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeRegistrationAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Registration received. If the email is not already registered, you will receive a confirmation email.",
	})
}

func writeGenericEmailOutcome(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"message": genericEmailOutcome})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
