package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/handlers"
	"github.com/greenbasket/gatehouse/internal/middleware"
	"github.com/greenbasket/gatehouse/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	userHandler *handlers.UserHandler,
	authMiddleware *auth.Middleware,
) {
	credentialLimit := middleware.DefaultCredentialRateLimit()
	emailLimit := middleware.DefaultEmailRouteLimit()

	router.Route("/api/v1", func(r chi.Router) {
		// Public routes. The email-sending routes get the tightest IP
		// throttle; per-account daily windows are enforced underneath.
		r.With(middleware.RateLimitByIP(emailLimit)).Post("/auth/register", authHandler.Register)
		r.With(middleware.RateLimitByIP(credentialLimit)).Post("/auth/login", authHandler.Login)
		r.With(middleware.RateLimitByIP(credentialLimit)).Post("/auth/refresh", authHandler.RefreshToken)
		r.With(middleware.RateLimitByIP(credentialLimit)).Post("/auth/verify-email", authHandler.VerifyEmail)
		r.With(middleware.RateLimitByIP(emailLimit)).Post("/auth/resend-verification", authHandler.ResendVerification)
		r.With(middleware.RateLimitByIP(emailLimit)).Post("/auth/forgot-password", authHandler.ForgotPassword)
		r.With(middleware.RateLimitByIP(credentialLimit)).Post("/auth/reset-password", authHandler.ResetPassword)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/auth/logout", authHandler.Logout)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireRole(models.RoleAdmin))
				r.Use(middleware.RateLimitByUser(middleware.RateLimitConfig{RequestsPerMinute: 60}))

				r.Post("/admin/security/status", adminHandler.GetSecurityStatus)
				r.Post("/admin/security/users/{id}/reset", adminHandler.ResetAttempts)
				r.Get("/admin/dashboard/stats", adminHandler.GetDashboardStats)
				r.Get("/admin/dashboard/activity", adminHandler.GetRecentActivity)

				r.Get("/admin/users", userHandler.ListUsers)
				r.Get("/admin/users/{id}", userHandler.GetUser)
				r.Delete("/admin/users/{id}", userHandler.DeleteUser)
			})
		})
	})
}
