package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func internalAuthProbe(t *testing.T, configuredKey, providedKey string) int {
	t.Helper()
	handler := InternalAuthMiddleware(configuredKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/claims/x/process", nil)
	if providedKey != "" {
		req.Header.Set("X-Internal-API-Key", providedKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestInternalAuthMiddleware_AcceptsMatchingKey(t *testing.T) {
	if code := internalAuthProbe(t, "secret-key", "secret-key"); code != http.StatusNoContent {
		t.Fatalf("expected request to pass through, got status %d", code)
	}
}

func TestInternalAuthMiddleware_RejectsWrongKey(t *testing.T) {
	if code := internalAuthProbe(t, "secret-key", "not-the-key"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong key, got %d", code)
	}
}

func TestInternalAuthMiddleware_RejectsMissingKey(t *testing.T) {
	if code := internalAuthProbe(t, "secret-key", ""); code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing key, got %d", code)
	}
}

func TestInternalAuthMiddleware_EmptyConfiguredKeyRejectsEverything(t *testing.T) {
	if code := internalAuthProbe(t, "", "anything"); code != http.StatusForbidden {
		t.Fatalf("an unset internal key must reject all requests, got %d", code)
	}
}

func TestFarmerAuthMiddleware_RequiresBearerToken(t *testing.T) {
	handler := FarmerAuthMiddleware("http://localhost/jwks")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	req := httptest.NewRequest(http.MethodGet, "/claims", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without Authorization header, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/claims", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-Bearer scheme, got %d", rec.Code)
	}
}
