// Package store persists workspaces, session bindings, the hidden-session
// set, todos, and backlog items as five independent JSON files under the
// data directory. The server is the sole writer, so files are read whole
// and written atomically (temp file + rename) without locking.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidName = errors.New("invalid name")
)

const (
	workspacesFile = "workspaces.json"
	bindingsFile   = "session-workspaces.json"
	hiddenFile     = "hidden-sessions.json"
	todosFile      = "todos.json"
	backlogFile    = "backlog.json"
)

// Store holds the five collections in memory and mirrors every mutation to
// disk. A failed write keeps the in-memory state and queues the file for a
// background retry flush.
type Store struct {
	mu  sync.Mutex
	dir string

	workspaces []Workspace
	bindings   map[string]*string
	hidden     map[string]struct{}
	todos      []Todo
	backlog    []BacklogItem

	retry map[string]struct{}
}

// Open loads (or initializes) all five files under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		bindings: make(map[string]*string),
		hidden:   make(map[string]struct{}),
		retry:    make(map[string]struct{}),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeAtomic serializes v and renames it over the target file. The temp
// file lives in the same directory so the rename never crosses filesystems.
func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	target := s.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", target, err)
	}
	return nil
}

// save writes one file; on failure the in-memory state is kept and the file
// is queued for the retry flush.
func (s *Store) save(name string, v any) {
	if err := s.writeAtomic(name, v); err != nil {
		log.Printf("[store] write failed, queued for retry: %v", err)
		s.retry[name] = struct{}{}
		return
	}
	delete(s.retry, name)
}

// FlushRetries rewrites any files whose last write failed. Called from the
// maintenance job.
func (s *Store) FlushRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.retry {
		s.save(name, s.snapshotFile(name))
	}
}

// PendingRetries reports how many files are queued for a retry write.
func (s *Store) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retry)
}

func (s *Store) snapshotFile(name string) any {
	switch name {
	case workspacesFile:
		return workspacesDoc{Version: workspacesVersion, Workspaces: s.workspaces}
	case bindingsFile:
		return bindingsDoc{Version: bindingsVersion, Map: s.bindings}
	case hiddenFile:
		return hiddenDoc{Version: hiddenVersion, IDs: s.hiddenIDs()}
	case todosFile:
		return todosDoc{Version: todosVersion, Todos: s.todos}
	case backlogFile:
		return backlogDoc{Version: backlogVersion, Items: s.backlog}
	}
	return nil
}

func (s *Store) hiddenIDs() []string {
	ids := make([]string, 0, len(s.hidden))
	for id := range s.hidden {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) saveWorkspaces() { s.save(workspacesFile, s.snapshotFile(workspacesFile)) }
func (s *Store) saveBindings()   { s.save(bindingsFile, s.snapshotFile(bindingsFile)) }
func (s *Store) saveHidden()     { s.save(hiddenFile, s.snapshotFile(hiddenFile)) }
func (s *Store) saveTodos()      { s.save(todosFile, s.snapshotFile(todosFile)) }
func (s *Store) saveBacklog()    { s.save(backlogFile, s.snapshotFile(backlogFile)) }
