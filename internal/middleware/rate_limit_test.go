package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/greenbasket/gatehouse/internal/auth"
	"github.com/greenbasket/gatehouse/internal/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	limiter := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})
	handler := limiter(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/forgot-password", nil)
		req.RemoteAddr = "203.0.113.9:41000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d failed with status %d, expected 200", i+1, w.Code)
		}
	}

	req := httptest.NewRequest("POST", "/auth/forgot-password", nil)
	req.RemoteAddr = "203.0.113.9:41000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d after limit, got %d", http.StatusTooManyRequests, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error body, got Content-Type %s", ct)
	}
}

func TestRateLimitByIP_IsolatesClients(t *testing.T) {
	limiter := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})
	handler := limiter(okHandler())

	first := httptest.NewRequest("POST", "/auth/login", nil)
	first.RemoteAddr = "203.0.113.10:41000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("first client request failed with status %d", w.Code)
	}

	// A different address still has a fresh bucket
	second := httptest.NewRequest("POST", "/auth/login", nil)
	second.RemoteAddr = "203.0.113.11:41000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	if w.Code != http.StatusOK {
		t.Errorf("second client should be unaffected, got status %d", w.Code)
	}
}

func TestRateLimitByUser_KeysOnUserID(t *testing.T) {
	limiter := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 2})
	handler := limiter(okHandler())

	send := func(userID, remoteAddr string) int {
		req := httptest.NewRequest("GET", "/admin/dashboard/stats", nil)
		req.RemoteAddr = remoteAddr
		claims := &models.TokenClaims{UserID: userID, Type: auth.TokenTypeAccess, Role: models.RoleAdmin}
		req = req.WithContext(auth.ContextWithUser(req.Context(), claims))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// Same user from different addresses shares one bucket
	if code := send("admin-1", "203.0.113.20:41000"); code != http.StatusOK {
		t.Fatalf("request 1 failed with status %d", code)
	}
	if code := send("admin-1", "203.0.113.21:41000"); code != http.StatusOK {
		t.Fatalf("request 2 failed with status %d", code)
	}
	if code := send("admin-1", "203.0.113.22:41000"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for exhausted user bucket, got %d", code)
	}

	// Another user is unaffected
	if code := send("admin-2", "203.0.113.20:41000"); code != http.StatusOK {
		t.Errorf("expected independent bucket per user, got %d", code)
	}
}

func TestRateLimitByUser_FallsBackToIP(t *testing.T) {
	limiter := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 1})
	handler := limiter(okHandler())

	req := httptest.NewRequest("GET", "/admin/dashboard/stats", nil)
	req.RemoteAddr = "203.0.113.30:41000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("anonymous request failed with status %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/admin/dashboard/stats", nil)
	req.RemoteAddr = "203.0.113.30:41000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected IP fallback to enforce the limit, got %d", w.Code)
	}
}
