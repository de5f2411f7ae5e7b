package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/greenbasket/gatehouse/internal/auth"
	pkghttp "github.com/greenbasket/gatehouse/pkg/http"
)

// RateLimitConfig holds per-IP rate limiting configuration. This is route
// level throttling against request floods; the per-account daily windows
// live in the security service and are unaffected by it.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultCredentialRateLimit covers login and refresh (10 requests per minute)
func DefaultCredentialRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// DefaultEmailRouteLimit covers the routes that can trigger outbound email
// (3 requests per minute)
func DefaultEmailRouteLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 3}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUser creates a middleware that rate limits authenticated
// requests by user ID, falling back to client IP when no claims are present
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims, ok := auth.GetUserFromContext(r.Context()); ok {
				return "user:" + claims.UserID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}
