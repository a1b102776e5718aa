package handlers

import (
	"net/http"

	"github.com/gluk-w/muxdeck/internal/auth"
	"github.com/gluk-w/muxdeck/internal/config"
	"github.com/gluk-w/muxdeck/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Login verifies credentials against the configured user and issues a
// bearer token.
func Login(w http.ResponseWriter, r *http.Request) {
	if !config.Cfg.AuthEnabled {
		writeError(w, http.StatusNotFound, "authentication is disabled")
		return
	}

	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username != config.Cfg.AuthUsername ||
		!auth.CheckPassword(req.Password, config.Cfg.AuthPasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := Issuer.Issue(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int(Issuer.TTL().Seconds()),
	})
}

// CurrentUser reports who the request is authenticated as.
func CurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"username":     middleware.Username(r),
		"auth_enabled": config.Cfg.AuthEnabled,
	})
}
