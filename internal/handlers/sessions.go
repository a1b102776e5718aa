package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/muxdeck/internal/discovery"
	"github.com/gluk-w/muxdeck/internal/mux"
)

// Creation waits: the mux needs a moment to start the session before
// discovery can find it, longer over SSH.
var (
	createSettleLocal  = 500 * time.Millisecond
	createSettleRemote = 1500 * time.Millisecond
)

// ListSessions returns the current managed-session snapshot.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	includeHidden := r.URL.Query().Get("includeHidden") == "true"
	writeJSON(w, http.StatusOK, Engine.Snapshot(includeHidden))
}

// GetSession returns one session from the current snapshot.
func GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := Engine.Get(chi.URLParam(r, "id"))
	if !ok {
		writeErrorCode(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type createSessionRequest struct {
	Name        string  `json:"name"`
	HostID      string  `json:"hostId"`
	WorkingDir  string  `json:"workingDir"`
	Command     string  `json:"command,omitempty"`
	WorkspaceID *string `json:"workspaceId,omitempty"`
}

// dirExists checks a directory on the target host through its command
// runner, so local and remote hosts validate identically.
func dirExists(r *http.Request, runner mux.Runner, dir string) bool {
	out, err := runner.Run(r.Context(), fmt.Sprintf("test -d '%s' && echo ok", strings.ReplaceAll(dir, "'", `'\''`)))
	return err == nil && strings.TrimSpace(out) == "ok"
}

// CreateSession starts a new mux session on a host and puts it under
// management.
func CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.HostID == "" {
		req.HostID = discovery.LocalHostID
	}

	runner, err := Engine.RunnerFor(req.HostID)
	if err != nil {
		connError(w, err)
		return
	}

	// The home directory always exists; anything else is checked before
	// the mux gets to fail less legibly.
	if req.WorkingDir != "" && req.WorkingDir != "~" && !dirExists(r, runner, req.WorkingDir) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("working directory %q does not exist on host", req.WorkingDir))
		return
	}

	adapter := Engine.Adapter()
	if adapter.HasSession(r.Context(), runner, req.Name) {
		writeError(w, http.StatusConflict, fmt.Sprintf("session %q already exists", req.Name))
		return
	}
	if err := adapter.CreateSession(r.Context(), runner, req.Name, req.WorkingDir, req.Command); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	settle := createSettleLocal
	if req.HostID != discovery.LocalHostID {
		settle = createSettleRemote
	}
	time.Sleep(settle)
	Engine.Refresh(r.Context())

	s, ok := Engine.FindByName(req.HostID, req.Name)
	if !ok {
		writeError(w, http.StatusBadGateway, "session was created but never appeared in discovery")
		return
	}
	Engine.AddManaged(s.ID, req.WorkspaceID)

	s, _ = Engine.Get(s.ID)
	writeJSON(w, http.StatusCreated, s)
}

type attachSessionRequest struct {
	SessionName string  `json:"sessionName"`
	HostID      string  `json:"hostId"`
	WorkspaceID *string `json:"workspaceId,omitempty"`
}

// AttachSession puts an existing mux session under management. Attaching a
// hidden session unhides it in the same operation.
func AttachSession(w http.ResponseWriter, r *http.Request) {
	var req attachSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.HostID == "" {
		req.HostID = discovery.LocalHostID
	}

	runner, err := Engine.RunnerFor(req.HostID)
	if err != nil {
		connError(w, err)
		return
	}
	if !Engine.Adapter().HasSession(r.Context(), runner, req.SessionName) {
		writeErrorCode(w, http.StatusNotFound, "mux session not found on host", "SESSION_NOT_FOUND")
		return
	}

	Engine.Refresh(r.Context())
	s, ok := Engine.FindByName(req.HostID, req.SessionName)
	if !ok {
		writeErrorCode(w, http.StatusNotFound, "session not found after refresh", "SESSION_NOT_FOUND")
		return
	}

	workspaceID := req.WorkspaceID
	if existing, managed := Store.WorkspaceFor(s.ID); managed && workspaceID == nil {
		workspaceID = existing
	}
	Engine.AddManaged(s.ID, workspaceID)
	Engine.Unhide(s.ID)

	s, _ = Engine.Get(s.ID)
	writeJSON(w, http.StatusOK, s)
}

// AvailableSessions lists mux sessions on a host that could be attached.
func AvailableSessions(w http.ResponseWriter, r *http.Request) {
	hostID := r.URL.Query().Get("hostId")
	if hostID == "" {
		hostID = discovery.LocalHostID
	}
	avail, err := Engine.ListAvailableFor(r.Context(), hostID)
	if err != nil {
		connError(w, err)
		return
	}
	if avail == nil {
		avail = []discovery.AvailableSession{}
	}
	writeJSON(w, http.StatusOK, avail)
}

// DeleteSession kills the mux session and removes it from management.
func DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hostID, _, _, err := discovery.ParseID(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	Bridges.Close(id)

	// Kill the mux session if we still know its name; a terminated session
	// has nothing left to kill.
	if s, ok := Engine.Get(id); ok && s.Status != discovery.StatusTerminated {
		runner, err := Engine.RunnerFor(hostID)
		if err == nil {
			if err := Engine.Adapter().KillSession(r.Context(), runner, s.Mux.SessionName); err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
		}
	}

	Engine.RemoveManaged(id)
	w.WriteHeader(http.StatusNoContent)
}

// HideSession removes a session from default listings.
func HideSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !Store.IsManaged(id) {
		writeErrorCode(w, http.StatusNotFound, "session not managed", "SESSION_NOT_FOUND")
		return
	}
	Engine.Hide(id)
	w.WriteHeader(http.StatusNoContent)
}

// UnhideSession restores a hidden session to default listings.
func UnhideSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !Store.IsManaged(id) {
		writeErrorCode(w, http.StatusNotFound, "session not managed", "SESSION_NOT_FOUND")
		return
	}
	Engine.Unhide(id)
	w.WriteHeader(http.StatusNoContent)
}

type setWorkspaceRequest struct {
	WorkspaceID *string `json:"workspaceId"`
}

// SetSessionWorkspace rebinds a managed session's workspace; null clears
// it.
func SetSessionWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !Store.IsManaged(id) {
		writeErrorCode(w, http.StatusNotFound, "session not managed", "SESSION_NOT_FOUND")
		return
	}
	var req setWorkspaceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WorkspaceID != nil {
		if _, ok := Store.Workspace(*req.WorkspaceID); !ok {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
	}
	Engine.SetWorkspace(id, req.WorkspaceID)
	s, _ := Engine.Get(id)
	writeJSON(w, http.StatusOK, s)
}
