package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gluk-w/muxdeck/internal/auth"
	"github.com/gluk-w/muxdeck/internal/config"
)

type contextKey string

const userContextKey contextKey = "user"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// bearerToken extracts the token from the Authorization header or, for
// WebSocket upgrades where headers are awkward to set, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// RequireAuth gates a handler behind token auth. When auth is disabled in
// the configuration, every request passes through.
func RequireAuth(issuer *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Cfg.AuthEnabled {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
				return
			}
			username, ok := issuer.Verify(token)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Username returns the authenticated username, or "" when auth is off.
func Username(r *http.Request) string {
	username, _ := r.Context().Value(userContextKey).(string)
	return username
}
