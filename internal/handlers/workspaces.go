package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type workspaceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Hidden      *bool   `json:"hidden"`
}

// ListWorkspaces returns every workspace.
func ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Store.Workspaces())
}

// GetWorkspace returns one workspace.
func GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := Store.Workspace(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// CreateWorkspace adds a workspace.
func CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}
	ws, err := Store.CreateWorkspace(name, description)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

// UpdateWorkspace renames or re-describes a workspace.
func UpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws, err := Store.UpdateWorkspace(chi.URLParam(r, "id"), req.Name, req.Description, req.Hidden)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// DeleteWorkspace removes a workspace. Bound sessions stay managed; their
// workspace binding is nulled in the same write.
func DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := Store.DeleteWorkspace(chi.URLParam(r, "id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
