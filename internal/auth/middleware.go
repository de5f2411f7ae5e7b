package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/greenbasket/gatehouse/internal/models"
	httputil "github.com/greenbasket/gatehouse/pkg/http"
)

type contextKey string

const userContextKey contextKey = "user_claims"

// RevocationChecker reports whether a token has been revoked
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Middleware validates access tokens and injects claims into the request context
type Middleware struct {
	tokenManager *TokenManager
	revocations  RevocationChecker
	logger       *slog.Logger
}

func NewMiddleware(tm *TokenManager, revocations RevocationChecker, logger *slog.Logger) *Middleware {
	return &Middleware{
		tokenManager: tm,
		revocations:  revocations,
		logger:       logger,
	}
}

// Authenticate requires a valid, non-revoked access token
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := extractBearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, "Missing or malformed authorization header")
			return
		}

		claims, err := m.tokenManager.ValidateToken(tokenString, TokenTypeAccess)
		if err != nil {
			httputil.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		if m.revocations != nil {
			revoked, err := m.revocations.IsTokenRevoked(r.Context(), claims.ID)
			if err != nil {
				// Fail closed when the revocation store is unreachable
				m.logger.Error("revocation check failed", "error", err)
				httputil.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if revoked {
				httputil.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), claims)))
	})
}

// ContextWithUser injects claims into a context. Handler tests use this to
// simulate an authenticated request.
func ContextWithUser(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// RequireRole allows only users whose role matches one of the given roles
func (m *Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !allowed[claims.Role] {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext retrieves the authenticated user's claims from the context
func GetUserFromContext(ctx context.Context) (*models.TokenClaims, bool) {
	claims, ok := ctx.Value(userContextKey).(*models.TokenClaims)
	return claims, ok
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}
