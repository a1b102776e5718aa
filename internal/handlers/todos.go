package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/muxdeck/internal/store"
)

type todoRequest struct {
	WorkspaceID string  `json:"workspaceId"`
	Text        *string `json:"text"`
	Completed   *bool   `json:"completed"`
}

// ListTodos returns todos, optionally filtered by workspace.
func ListTodos(w http.ResponseWriter, r *http.Request) {
	todos := Store.Todos(r.URL.Query().Get("workspaceId"))
	if todos == nil {
		todos = []store.Todo{}
	}
	writeJSON(w, http.StatusOK, todos)
}

// CreateTodo adds a todo to a workspace.
func CreateTodo(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WorkspaceID != "" {
		if _, ok := Store.Workspace(req.WorkspaceID); !ok {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
	}
	text := ""
	if req.Text != nil {
		text = *req.Text
	}
	todo, err := Store.CreateTodo(req.WorkspaceID, text)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, todo)
}

// UpdateTodo edits a todo's text or completion flag.
func UpdateTodo(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	todo, err := Store.UpdateTodo(chi.URLParam(r, "id"), req.Text, req.Completed)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, todo)
}

// DeleteTodo removes a todo.
func DeleteTodo(w http.ResponseWriter, r *http.Request) {
	if err := Store.DeleteTodo(chi.URLParam(r, "id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
