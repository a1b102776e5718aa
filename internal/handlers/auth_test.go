package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gluk-w/muxdeck/internal/auth"
	"github.com/gluk-w/muxdeck/internal/config"
)

func setupAuth(t *testing.T, enabled bool) {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	config.Cfg.AuthEnabled = enabled
	config.Cfg.AuthUsername = "admin"
	config.Cfg.AuthPasswordHash = hash
	t.Cleanup(func() { config.Cfg.AuthEnabled = false })

	Issuer, err = auth.NewTokenIssuer("", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
}

func TestLoginDisabled(t *testing.T) {
	setupAuth(t, false)
	rec := httptest.NewRecorder()
	Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, map[string]string{"username": "admin", "password": "correct horse"})))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when auth disabled, got %d", rec.Code)
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	setupAuth(t, true)
	rec := httptest.NewRecorder()
	Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, map[string]string{"username": "admin", "password": "correct horse"})))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	decodeResponse(t, rec, &resp)
	if resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected expiry: %d", resp.ExpiresIn)
	}
	user, ok := Issuer.Verify(resp.Token)
	if !ok || user != "admin" {
		t.Fatalf("token did not verify: user=%q ok=%v", user, ok)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	setupAuth(t, true)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "admin", "incorrect horse"},
		{"wrong username", "root", "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
				jsonBody(t, map[string]string{"username": tc.username, "password": tc.password})))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
