// migrate.go loads the JSON files and runs the per-file migration chains.
//
// Each file carries {"version": n, ...}. A missing file is initialized with
// the current shape. An older version is migrated step by step (v1→v2→...)
// on the raw document before decoding. A version newer than this build
// understands is reset to defaults, loudly.

package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Current schema versions per file.
const (
	workspacesVersion = 2
	bindingsVersion   = 1
	hiddenVersion     = 1
	todosVersion      = 1
	backlogVersion    = 2
)

type workspacesDoc struct {
	Version    int         `json:"version"`
	Workspaces []Workspace `json:"workspaces"`
}

type bindingsDoc struct {
	Version int                `json:"version"`
	Map     map[string]*string `json:"map"`
}

type hiddenDoc struct {
	Version int      `json:"version"`
	IDs     []string `json:"ids"`
}

type todosDoc struct {
	Version int    `json:"version"`
	Todos   []Todo `json:"todos"`
}

type backlogDoc struct {
	Version int           `json:"version"`
	Items   []BacklogItem `json:"items"`
}

// migration rewrites a raw document from version n to n+1.
type migration func(doc map[string]json.RawMessage) error

var migrations = map[string]map[int]migration{
	workspacesFile: {
		// v1 workspaces had no hidden flag; default every record to visible.
		1: func(doc map[string]json.RawMessage) error {
			var items []map[string]json.RawMessage
			if raw, ok := doc["workspaces"]; ok {
				if err := json.Unmarshal(raw, &items); err != nil {
					return err
				}
			}
			for _, w := range items {
				if _, ok := w["hidden"]; !ok {
					w["hidden"] = json.RawMessage("false")
				}
			}
			enc, err := json.Marshal(items)
			if err != nil {
				return err
			}
			doc["workspaces"] = enc
			return nil
		},
	},
	backlogFile: {
		// v1 backlog items had no status; carry them over as "new".
		1: func(doc map[string]json.RawMessage) error {
			var items []map[string]json.RawMessage
			if raw, ok := doc["items"]; ok {
				if err := json.Unmarshal(raw, &items); err != nil {
					return err
				}
			}
			for _, it := range items {
				if _, ok := it["status"]; !ok {
					it["status"] = json.RawMessage(`"new"`)
				}
			}
			enc, err := json.Marshal(items)
			if err != nil {
				return err
			}
			doc["items"] = enc
			return nil
		},
	},
}

// loadFile reads one file into out, migrating or resetting as needed.
// It returns true when the file must be rewritten (initialized, migrated,
// or reset).
func (s *Store) loadFile(name string, current int, out any) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[store] %s is corrupt, resetting to defaults: %v", name, err)
		return true, nil
	}

	version := 1
	if raw, ok := doc["version"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			log.Printf("[store] %s has a bad version field, resetting: %v", name, err)
			return true, nil
		}
	}

	if version > current {
		log.Printf("[store] %s is version %d but this build understands %d, resetting to defaults",
			name, version, current)
		return true, nil
	}

	migrated := false
	for version < current {
		step, ok := migrations[name][version]
		if !ok {
			return false, fmt.Errorf("%s: no migration from version %d", name, version)
		}
		if err := step(doc); err != nil {
			return false, fmt.Errorf("%s: migrate v%d: %w", name, version, err)
		}
		version++
		migrated = true
	}
	if migrated {
		log.Printf("[store] migrated %s to version %d", name, current)
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(merged, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return migrated, nil
}

func (s *Store) loadAll() error {
	var ws workspacesDoc
	rewrite, err := s.loadFile(workspacesFile, workspacesVersion, &ws)
	if err != nil {
		return err
	}
	s.workspaces = ws.Workspaces
	if s.workspaces == nil {
		s.workspaces = []Workspace{}
	}
	if rewrite {
		s.saveWorkspaces()
	}

	var bd bindingsDoc
	rewrite, err = s.loadFile(bindingsFile, bindingsVersion, &bd)
	if err != nil {
		return err
	}
	if bd.Map != nil {
		s.bindings = bd.Map
	}
	if rewrite {
		s.saveBindings()
	}

	var hd hiddenDoc
	rewrite, err = s.loadFile(hiddenFile, hiddenVersion, &hd)
	if err != nil {
		return err
	}
	for _, id := range hd.IDs {
		s.hidden[id] = struct{}{}
	}
	if rewrite {
		s.saveHidden()
	}

	var td todosDoc
	rewrite, err = s.loadFile(todosFile, todosVersion, &td)
	if err != nil {
		return err
	}
	s.todos = td.Todos
	if s.todos == nil {
		s.todos = []Todo{}
	}
	if rewrite {
		s.saveTodos()
	}

	var bl backlogDoc
	rewrite, err = s.loadFile(backlogFile, backlogVersion, &bl)
	if err != nil {
		return err
	}
	s.backlog = bl.Items
	if s.backlog == nil {
		s.backlog = []BacklogItem{}
	}
	if rewrite {
		s.saveBacklog()
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }
