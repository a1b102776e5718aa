package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gluk-w/muxdeck/internal/auth"
	"github.com/gluk-w/muxdeck/internal/config"
)

func protectedHandler(t *testing.T, issuer *auth.TokenIssuer) http.Handler {
	t.Helper()
	return RequireAuth(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(Username(r)))
	}))
}

func TestRequireAuthDisabledPassesThrough(t *testing.T) {
	config.Cfg.AuthEnabled = false
	issuer, _ := auth.NewTokenIssuer("", time.Hour)

	rec := httptest.NewRecorder()
	protectedHandler(t, issuer).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	config.Cfg.AuthEnabled = true
	t.Cleanup(func() { config.Cfg.AuthEnabled = false })
	issuer, _ := auth.NewTokenIssuer("", time.Hour)

	h := protectedHandler(t, issuer)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hosts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestRequireAuthAcceptsHeaderAndQueryToken(t *testing.T) {
	config.Cfg.AuthEnabled = true
	t.Cleanup(func() { config.Cfg.AuthEnabled = false })
	issuer, _ := auth.NewTokenIssuer("", time.Hour)
	token, err := issuer.Issue("admin")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	h := protectedHandler(t, issuer)

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "admin" {
		t.Fatalf("header auth failed: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "admin" {
		t.Fatalf("query auth failed: %d %q", rec.Code, rec.Body.String())
	}
}
