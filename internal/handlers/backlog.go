package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type backlogRequest struct {
	Type        *string `json:"type"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
}

// ListBacklog returns all backlog items.
func ListBacklog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Store.Backlog())
}

// CreateBacklogItem adds a backlog item.
func CreateBacklogItem(w http.ResponseWriter, r *http.Request) {
	var req backlogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	item, err := Store.CreateBacklogItem(str(req.Type), str(req.Title), str(req.Description), str(req.Priority), str(req.Status))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// UpdateBacklogItem edits any subset of an item's fields.
func UpdateBacklogItem(w http.ResponseWriter, r *http.Request) {
	var req backlogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := Store.UpdateBacklogItem(chi.URLParam(r, "id"),
		req.Type, req.Title, req.Description, req.Priority, req.Status)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteBacklogItem removes an item.
func DeleteBacklogItem(w http.ResponseWriter, r *http.Request) {
	if err := Store.DeleteBacklogItem(chi.URLParam(r, "id")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
