package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/models"
	"github.com/greenbasket/gatehouse/internal/services"
	pkghttp "github.com/greenbasket/gatehouse/pkg/http"
)

// SecurityAdminInterface is the administrative surface of the security façade
type SecurityAdminInterface interface {
	GetSecurityStatus(ctx context.Context, email string) (*models.SecurityStatus, error)
	ResetAttempts(ctx context.Context, accountID string, scope models.ResetScope, actorID string) error
}

// AdminServiceInterface aggregates dashboard data
type AdminServiceInterface interface {
	GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error)
	GetRecentActivity(ctx context.Context, limit int) (*services.DashboardActivityResponse, error)
}

// AdminHandler serves the admin security dashboard and reset operations.
// Routes mount it behind authentication plus the admin role requirement.
type AdminHandler struct {
	security SecurityAdminInterface
	admin    AdminServiceInterface
}

func NewAdminHandler(security SecurityAdminInterface, admin AdminServiceInterface) *AdminHandler {
	return &AdminHandler{
		security: security,
		admin:    admin,
	}
}

type SecurityStatusRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetAttemptsRequest struct {
	Scope string `json:"scope" validate:"required,oneof=all verification password suspicious"`
}

// GetSecurityStatus returns the full security projection for an account.
// This path is admin-only, so a 404 for an unknown email is acceptable.
func (h *AdminHandler) GetSecurityStatus(w http.ResponseWriter, r *http.Request) {
	var req SecurityStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	status, err := h.security.GetSecurityStatus(r.Context(), normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "No account for that email")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ResetAttempts clears counters or lifts a suspension for an account
func (h *AdminHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account id is required")
		return
	}

	var req ResetAttemptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	scope, err := models.ParseResetScope(req.Scope)
	if err != nil {
		pkghttp.WriteBadRequest(w, "Unknown reset scope")
		return
	}

	actorID := ""
	if claims, ok := auth.GetUserFromContext(r.Context()); ok {
		actorID = claims.UserID
	}

	if err := h.security.ResetAttempts(r.Context(), accountID, scope, actorID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Account not found")
		case errors.Is(err, models.ErrInvalidResetScope):
			pkghttp.WriteBadRequest(w, "Unknown reset scope")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Security counters reset.",
		"scope":   string(scope),
	})
}

// GetDashboardStats returns aggregate security metrics
func (h *AdminHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.GetDashboardStats(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetRecentActivity returns recent abuse event feeds
func (h *AdminHandler) GetRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "limit must be an integer")
			return
		}
		limit = parsed
	}

	activity, err := h.admin.GetRecentActivity(r.Context(), limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, activity)
}
