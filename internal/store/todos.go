package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Todo is a workspace-scoped task item.
type Todo struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Text        string    `json:"text"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Todos returns todos for the given workspace, or all todos when
// workspaceID is empty.
func (s *Store) Todos(workspaceID string) []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Todo
	for _, t := range s.todos {
		if workspaceID == "" || t.WorkspaceID == workspaceID {
			out = append(out, t)
		}
	}
	return out
}

// CreateTodo adds a todo to a workspace.
func (s *Store) CreateTodo(workspaceID, text string) (Todo, error) {
	if text == "" {
		return Todo{}, fmt.Errorf("%w: text is required", ErrInvalidName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Todo{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Text:        text,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	s.todos = append(s.todos, t)
	s.saveTodos()
	return t, nil
}

// UpdateTodo edits a todo's text and/or completion flag.
func (s *Store) UpdateTodo(id string, text *string, completed *bool) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.todos {
		if s.todos[i].ID != id {
			continue
		}
		if text != nil {
			s.todos[i].Text = *text
		}
		if completed != nil {
			s.todos[i].Completed = *completed
		}
		s.todos[i].UpdatedAt = now()
		s.saveTodos()
		return s.todos[i], nil
	}
	return Todo{}, fmt.Errorf("todo %s: %w", id, ErrNotFound)
}

// DeleteTodo removes a todo.
func (s *Store) DeleteTodo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.todos {
		if s.todos[i].ID == id {
			s.todos = append(s.todos[:i], s.todos[i+1:]...)
			s.saveTodos()
			return nil
		}
	}
	return fmt.Errorf("todo %s: %w", id, ErrNotFound)
}
