package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/muxdeck/internal/config"
	"github.com/gluk-w/muxdeck/internal/discovery"
	"github.com/gluk-w/muxdeck/internal/hostconn"
)

// maskSecret hides a credential in API responses, keeping a hint of its
// tail for recognition.
func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}

// hostView is a HostConfig with secrets masked.
type hostView struct {
	config.HostConfig
	State    hostconn.ConnectionState `json:"state"`
	Attempts int                      `json:"reconnect_attempts"`
}

func maskHost(h config.HostConfig) config.HostConfig {
	h.Password = maskSecret(h.Password)
	h.Passphrase = maskSecret(h.Passphrase)
	if h.JumpHost != nil {
		j := *h.JumpHost
		j.Password = maskSecret(j.Password)
		j.Passphrase = maskSecret(j.Passphrase)
		h.JumpHost = &j
	}
	return h
}

func viewOf(h config.HostConfig) hostView {
	return hostView{
		HostConfig: maskHost(h),
		State:      HostMgr.State(h.ID),
		Attempts:   HostMgr.Attempts(h.ID),
	}
}

func persistHosts(w http.ResponseWriter) bool {
	if err := config.SaveHosts(config.Cfg.HostsPath, HostMgr.Hosts()); err != nil {
		writeError(w, http.StatusInternalServerError, "persist hosts: "+err.Error())
		return false
	}
	return true
}

// localHostView is the entry for the machine the server runs on. It has no
// SSH configuration and is always connected; its id matches the hostId the
// session endpoints accept.
func localHostView() hostView {
	return hostView{
		HostConfig: config.HostConfig{ID: discovery.LocalHostID, Name: "Local"},
		State:      hostconn.StateConnected,
	}
}

// ListHosts returns the local pseudo-host followed by all configured hosts
// with their connection states.
func ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := HostMgr.Hosts()
	views := make([]hostView, 0, len(hosts)+1)
	views = append(views, localHostView())
	for _, h := range hosts {
		views = append(views, viewOf(h))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetHost returns one host.
func GetHost(w http.ResponseWriter, r *http.Request) {
	h, ok := HostMgr.Host(chi.URLParam(r, "id"))
	if !ok {
		writeErrorCode(w, http.StatusNotFound, "host not configured", "HOST_UNKNOWN")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(h))
}

// CreateHost adds a host and persists the host file.
func CreateHost(w http.ResponseWriter, r *http.Request) {
	var h config.HostConfig
	if !decodeBody(w, r, &h) {
		return
	}
	config.NormalizeHost(&h)
	if err := config.ValidateHost(&h); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := HostMgr.AddHost(h); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if !persistHosts(w) {
		return
	}
	added, _ := HostMgr.Host(h.ID)
	writeJSON(w, http.StatusCreated, viewOf(added))
}

// UpdateHost replaces a host's configuration. The connection is dropped so
// the next command reconnects with the new settings.
func UpdateHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var h config.HostConfig
	if !decodeBody(w, r, &h) {
		return
	}
	h.ID = id
	config.NormalizeHost(&h)
	if err := config.ValidateHost(&h); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := HostMgr.UpdateHost(h); err != nil {
		connError(w, err)
		return
	}
	if !persistHosts(w) {
		return
	}
	updated, _ := HostMgr.Host(id)
	writeJSON(w, http.StatusOK, viewOf(updated))
}

// DeleteHost removes a host and disconnects it.
func DeleteHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := HostMgr.Host(id); !ok {
		writeErrorCode(w, http.StatusNotFound, "host not configured", "HOST_UNKNOWN")
		return
	}
	HostMgr.RemoveHost(id)
	if !persistHosts(w) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestHost checks connectivity for a host configuration without touching
// the connection pool. The config comes from the request body, so unsaved
// dialog edits can be tested.
func TestHost(w http.ResponseWriter, r *http.Request) {
	var h config.HostConfig
	if !decodeBody(w, r, &h) {
		return
	}
	result := HostMgr.TestDirect(r.Context(), h)
	writeJSON(w, http.StatusOK, result)
}

// ConnectHost eagerly connects a host, resetting any exhausted reconnect
// counter.
func ConnectHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := HostMgr.Connect(r.Context(), id); err != nil {
		connError(w, err)
		return
	}
	h, _ := HostMgr.Host(id)
	writeJSON(w, http.StatusOK, viewOf(h))
}

// DisconnectHost drops a host's connection without scheduling reconnects.
func DisconnectHost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := HostMgr.Host(id); !ok {
		writeErrorCode(w, http.StatusNotFound, "host not configured", "HOST_UNKNOWN")
		return
	}
	HostMgr.Disconnect(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// HostEvents returns the recent connection events for a host.
func HostEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := HostMgr.Host(id); !ok {
		writeErrorCode(w, http.StatusNotFound, "host not configured", "HOST_UNKNOWN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":      HostMgr.Events(id),
		"transitions": HostMgr.Transitions(id),
	})
}
