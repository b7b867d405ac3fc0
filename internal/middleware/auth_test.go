package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authHandler(t *testing.T) http.Handler {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Key-Name", string(KeyFrom(r.Context())))
		w.WriteHeader(http.StatusOK)
	})
	return Auth("bot-secret", "admin-secret")(inner)
}

func TestAuth_MissingBearerToken(t *testing.T) {
	handler := authHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	handler := authHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_BotKeyAccepted(t *testing.T) {
	handler := authHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "Bearer bot-secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(KeyNameBot), rec.Header().Get("X-Key-Name"))
}

func TestAuth_AdminKeyAccepted(t *testing.T) {
	handler := authHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(KeyNameAdmin), rec.Header().Get("X-Key-Name"))
}

func TestAuth_CaseInsensitiveBearerPrefix(t *testing.T) {
	handler := authHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "BEARER bot-secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin_RejectsBotKey(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Auth("bot-secret", "admin-secret")(RequireAdmin(inner))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/guilds/g1/bytes/config", nil)
	req.Header.Set("Authorization", "Bearer bot-secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAdmin_AcceptsAdminKey(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Auth("bot-secret", "admin-secret")(RequireAdmin(inner))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/guilds/g1/bytes/config", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeyFrom_UnauthenticatedContextIsEmpty(t *testing.T) {
	assert.Equal(t, KeyName(""), KeyFrom(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
