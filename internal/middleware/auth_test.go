package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/steward-ai/steward/internal/middleware"
)

func testKeyHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(hash)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_Disabled_PassesThrough(t *testing.T) {
	handler := middleware.APIKeyAuth("", false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyAuth_NoHeader_Returns401(t *testing.T) {
	handler := middleware.APIKeyAuth(testKeyHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyAuth_WrongKey_Returns401(t *testing.T) {
	handler := middleware.APIKeyAuth(testKeyHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", http.NoBody)
	req.Header.Set("X-API-Key", "not-the-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAPIKeyAuth_ValidKey_PassesThrough(t *testing.T) {
	handler := middleware.APIKeyAuth(testKeyHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", http.NoBody)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAPIKeyAuth_PublicPaths_NoAuthRequired(t *testing.T) {
	handler := middleware.APIKeyAuth(testKeyHash(t, "secret"), true)(okHandler())

	for _, path := range []string{"/health", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("path %s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAPIKeyAuth_WebSocketQueryParam(t *testing.T) {
	handler := middleware.APIKeyAuth(testKeyHash(t, "secret"), true)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/ws?key=secret", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
