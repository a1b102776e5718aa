package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BacklogItem is a global work item, not tied to any workspace.
type BacklogItem struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Backlog returns all backlog items.
func (s *Store) Backlog() []BacklogItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BacklogItem, len(s.backlog))
	copy(out, s.backlog)
	return out
}

// CreateBacklogItem adds an item. Empty status defaults to "new".
func (s *Store) CreateBacklogItem(itemType, title, description, priority, status string) (BacklogItem, error) {
	if title == "" {
		return BacklogItem{}, fmt.Errorf("%w: title is required", ErrInvalidName)
	}
	if status == "" {
		status = "new"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it := BacklogItem{
		ID:          uuid.NewString(),
		Type:        itemType,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      status,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	s.backlog = append(s.backlog, it)
	s.saveBacklog()
	return it, nil
}

// UpdateBacklogItem edits any subset of an item's fields.
func (s *Store) UpdateBacklogItem(id string, itemType, title, description, priority, status *string) (BacklogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.backlog {
		if s.backlog[i].ID != id {
			continue
		}
		if itemType != nil {
			s.backlog[i].Type = *itemType
		}
		if title != nil {
			s.backlog[i].Title = *title
		}
		if description != nil {
			s.backlog[i].Description = *description
		}
		if priority != nil {
			s.backlog[i].Priority = *priority
		}
		if status != nil {
			s.backlog[i].Status = *status
		}
		s.backlog[i].UpdatedAt = now()
		s.saveBacklog()
		return s.backlog[i], nil
	}
	return BacklogItem{}, fmt.Errorf("backlog item %s: %w", id, ErrNotFound)
}

// DeleteBacklogItem removes an item.
func (s *Store) DeleteBacklogItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.backlog {
		if s.backlog[i].ID == id {
			s.backlog = append(s.backlog[:i], s.backlog[i+1:]...)
			s.saveBacklog()
			return nil
		}
	}
	return fmt.Errorf("backlog item %s: %w", id, ErrNotFound)
}
