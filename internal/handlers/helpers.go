// Package handlers implements the HTTP control surface. Handlers are thin:
// they decode, delegate to the owning component, and encode. Dependencies
// are package-level and set once from main before the router starts.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gluk-w/muxdeck/internal/auth"
	"github.com/gluk-w/muxdeck/internal/bridge"
	"github.com/gluk-w/muxdeck/internal/discovery"
	"github.com/gluk-w/muxdeck/internal/hostconn"
	"github.com/gluk-w/muxdeck/internal/store"
)

// Wired from main.
var (
	Store   *store.Store
	Engine  *discovery.Engine
	HostMgr *hostconn.Manager
	Bridges *bridge.Registry
	Issuer  *auth.TokenIssuer
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// storeError maps store sentinels to HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// connError maps connection-manager sentinels to HTTP statuses and codes.
func connError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hostconn.ErrHostUnknown):
		writeErrorCode(w, http.StatusNotFound, err.Error(), "HOST_UNKNOWN")
	case errors.Is(err, hostconn.ErrAuthFailed):
		writeErrorCode(w, http.StatusBadGateway, err.Error(), "AUTH_FAILED")
	case errors.Is(err, hostconn.ErrJumpHost):
		writeErrorCode(w, http.StatusBadGateway, err.Error(), "JUMP_HOST_FAILED")
	case errors.Is(err, hostconn.ErrTimeout):
		writeErrorCode(w, http.StatusGatewayTimeout, err.Error(), "TIMEOUT")
	default:
		writeErrorCode(w, http.StatusBadGateway, err.Error(), "NETWORK_ERROR")
	}
}
