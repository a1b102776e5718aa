package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s, dir
}

func TestOpenInitializesFiles(t *testing.T) {
	_, dir := openTestStore(t)
	for _, name := range []string{workspacesFile, bindingsFile, hiddenFile, todosFile, backlogFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s not initialized: %v", name, err)
			continue
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Errorf("%s is not valid JSON: %v", name, err)
		}
		if _, ok := doc["version"]; !ok {
			t.Errorf("%s missing version field", name)
		}
	}
}

func TestWorkspaceRoundTrip(t *testing.T) {
	s, dir := openTestStore(t)

	w, err := s.CreateWorkspace("deploys", "production work")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.Workspace(w.ID)
	if !ok {
		t.Fatal("workspace lost across reopen")
	}
	if got.Name != "deploys" || got.Description != "production work" {
		t.Errorf("got %+v", got)
	}
}

func TestWorkspaceNameValidation(t *testing.T) {
	s, _ := openTestStore(t)

	if _, err := s.CreateWorkspace("", ""); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := s.CreateWorkspace(strings.Repeat("x", 51), ""); err == nil {
		t.Error("51-char name accepted")
	}
	if _, err := s.CreateWorkspace(strings.Repeat("x", 50), ""); err != nil {
		t.Errorf("50-char name rejected: %v", err)
	}
}

func TestDeleteWorkspaceCascadesBindings(t *testing.T) {
	s, dir := openTestStore(t)

	w, _ := s.CreateWorkspace("doomed", "")
	other, _ := s.CreateWorkspace("survivor", "")

	s.Bind("h1:main:%0", &w.ID)
	s.Bind("h1:main:%1", &w.ID)
	s.Bind("h2:dev:%0", &other.ID)

	if err := s.DeleteWorkspace(w.ID); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}

	if _, ok := s.Workspace(w.ID); ok {
		t.Error("workspace record survived delete")
	}
	b := s.Bindings()
	if b["h1:main:%0"] != nil || b["h1:main:%1"] != nil {
		t.Error("bindings not nulled by cascade")
	}
	if b["h2:dev:%0"] == nil || *b["h2:dev:%0"] != other.ID {
		t.Error("unrelated binding touched")
	}

	// Cascade must be on disk, not just in memory.
	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rb := reopened.Bindings()
	if _, managed := rb["h1:main:%0"]; !managed {
		t.Error("binding dropped instead of nulled")
	}
	if rb["h1:main:%0"] != nil {
		t.Error("persisted binding not nulled")
	}
}

func TestHiddenRequiresManaged(t *testing.T) {
	s, _ := openTestStore(t)

	s.Hide("ghost:session:%0")
	if s.IsHidden("ghost:session:%0") {
		t.Error("unmanaged session was hidden")
	}

	s.Bind("h1:main:%0", nil)
	s.Hide("h1:main:%0")
	if !s.IsHidden("h1:main:%0") {
		t.Error("managed session not hidden")
	}

	s.Unhide("h1:main:%0")
	if s.IsHidden("h1:main:%0") {
		t.Error("session still hidden after unhide")
	}
}

func TestUnbindDropsHiddenEntry(t *testing.T) {
	s, _ := openTestStore(t)
	s.Bind("h1:main:%0", nil)
	s.Hide("h1:main:%0")
	s.Unbind("h1:main:%0")
	if s.IsHidden("h1:main:%0") {
		t.Error("hidden entry survived unbind")
	}
	if s.IsManaged("h1:main:%0") {
		t.Error("binding survived unbind")
	}
}

func TestWorkspaceMigrationV1AddsHidden(t *testing.T) {
	dir := t.TempDir()
	v1 := `{"version":1,"workspaces":[{"id":"a1","name":"legacy","created_at":"2025-01-02T03:04:05Z","updated_at":"2025-01-02T03:04:05Z"}]}`
	if err := os.WriteFile(filepath.Join(dir, workspacesFile), []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open with v1 file: %v", err)
	}
	w, ok := s.Workspace("a1")
	if !ok {
		t.Fatal("migrated workspace missing")
	}
	if w.Hidden {
		t.Error("migrated workspace should default to visible")
	}

	// The migrated file is rewritten at the current version.
	data, _ := os.ReadFile(filepath.Join(dir, workspacesFile))
	var doc workspacesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != workspacesVersion {
		t.Errorf("on-disk version = %d, want %d", doc.Version, workspacesVersion)
	}
}

func TestBacklogMigrationV1AddsStatus(t *testing.T) {
	dir := t.TempDir()
	v1 := `{"version":1,"items":[{"id":"b1","type":"feature","title":"old item","priority":"high","created_at":"2025-01-02T03:04:05Z","updated_at":"2025-01-02T03:04:05Z"}]}`
	if err := os.WriteFile(filepath.Join(dir, backlogFile), []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open with v1 backlog: %v", err)
	}
	items := s.Backlog()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Status != "new" {
		t.Errorf("migrated status = %q, want %q", items[0].Status, "new")
	}
}

func TestFutureVersionResets(t *testing.T) {
	dir := t.TempDir()
	future := `{"version":99,"workspaces":[{"id":"f1","name":"from the future"}]}`
	if err := os.WriteFile(filepath.Join(dir, workspacesFile), []byte(future), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open with future version: %v", err)
	}
	if got := len(s.Workspaces()); got != 0 {
		t.Errorf("future-version file kept %d workspaces, want reset to 0", got)
	}
}

func TestCorruptFileResets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, todosFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open with corrupt file: %v", err)
	}
	if got := len(s.Todos("")); got != 0 {
		t.Errorf("corrupt file yielded %d todos", got)
	}
}

func TestTempFileNeverLoaded(t *testing.T) {
	s, dir := openTestStore(t)
	s.CreateWorkspace("real", "")

	// A stale temp file from an interrupted write must be ignored.
	tmp := filepath.Join(dir, workspacesFile+".tmp")
	if err := os.WriteFile(tmp, []byte(`{"version":2,"workspaces":[{"id":"x","name":"partial`), 0o644); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ws := reopened.Workspaces()
	if len(ws) != 1 || ws[0].Name != "real" {
		t.Errorf("got %+v, want the one real workspace", ws)
	}
}

func TestTodoLifecycle(t *testing.T) {
	s, _ := openTestStore(t)
	w, _ := s.CreateWorkspace("ws", "")

	td, err := s.CreateTodo(w.ID, "ship it")
	if err != nil {
		t.Fatalf("CreateTodo: %v", err)
	}

	done := true
	if _, err := s.UpdateTodo(td.ID, nil, &done); err != nil {
		t.Fatalf("UpdateTodo: %v", err)
	}
	got := s.Todos(w.ID)
	if len(got) != 1 || !got[0].Completed {
		t.Errorf("todos = %+v", got)
	}

	if err := s.DeleteTodo(td.ID); err != nil {
		t.Fatalf("DeleteTodo: %v", err)
	}
	if len(s.Todos("")) != 0 {
		t.Error("todo survived delete")
	}
}

func TestBacklogLifecycle(t *testing.T) {
	s, _ := openTestStore(t)

	it, err := s.CreateBacklogItem("bug", "fix the flake", "", "high", "")
	if err != nil {
		t.Fatalf("CreateBacklogItem: %v", err)
	}
	if it.Status != "new" {
		t.Errorf("default status = %q", it.Status)
	}

	status := "in_progress"
	if _, err := s.UpdateBacklogItem(it.ID, nil, nil, nil, nil, &status); err != nil {
		t.Fatalf("UpdateBacklogItem: %v", err)
	}
	if got := s.Backlog(); len(got) != 1 || got[0].Status != "in_progress" {
		t.Errorf("backlog = %+v", got)
	}

	if err := s.DeleteBacklogItem(it.ID); err != nil {
		t.Fatalf("DeleteBacklogItem: %v", err)
	}
}
