package store

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxWorkspaceNameLen = 50

// Workspace groups sessions and todos under a user-chosen name.
// Names are not unique; the id is.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Hidden      bool      `json:"hidden"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func validateWorkspaceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxWorkspaceNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxWorkspaceNameLen)
	}
	return nil
}

// Workspaces returns all workspaces, including hidden ones.
func (s *Store) Workspaces() []Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Workspace, len(s.workspaces))
	copy(out, s.workspaces)
	return out
}

// Workspace looks up one workspace by id.
func (s *Store) Workspace(id string) (Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workspaces {
		if w.ID == id {
			return w, true
		}
	}
	return Workspace{}, false
}

// CreateWorkspace adds a workspace and persists the collection.
func (s *Store) CreateWorkspace(name, description string) (Workspace, error) {
	if err := validateWorkspaceName(name); err != nil {
		return Workspace{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w := Workspace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	s.workspaces = append(s.workspaces, w)
	s.saveWorkspaces()
	return w, nil
}

// UpdateWorkspace renames or re-describes a workspace. Nil fields are left
// unchanged.
func (s *Store) UpdateWorkspace(id string, name, description *string, hidden *bool) (Workspace, error) {
	if name != nil {
		if err := validateWorkspaceName(*name); err != nil {
			return Workspace{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.workspaces {
		if s.workspaces[i].ID != id {
			continue
		}
		if name != nil {
			s.workspaces[i].Name = *name
		}
		if description != nil {
			s.workspaces[i].Description = *description
		}
		if hidden != nil {
			s.workspaces[i].Hidden = *hidden
		}
		s.workspaces[i].UpdatedAt = now()
		s.saveWorkspaces()
		return s.workspaces[i], nil
	}
	return Workspace{}, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
}

// DeleteWorkspace removes a workspace. Sessions bound to it are not
// deleted: their binding is set to null in the same write as the cascade,
// before the workspace record goes away.
func (s *Store) DeleteWorkspace(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, w := range s.workspaces {
		if w.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}

	cascaded := false
	for sessionID, wsID := range s.bindings {
		if wsID != nil && *wsID == id {
			s.bindings[sessionID] = nil
			cascaded = true
		}
	}
	if cascaded {
		s.saveBindings()
	}

	s.workspaces = append(s.workspaces[:idx], s.workspaces[idx+1:]...)
	s.saveWorkspaces()
	return nil
}
