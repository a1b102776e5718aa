package discovery

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Local-pane enrichment helpers. Remote panes are never enriched: each
// field would cost an extra SSH round trip per pane per cycle.

// projectsRoot returns the assistant CLI's conversation storage directory.
func projectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// slashifyPath converts a working directory to the flattened directory
// name the assistant CLI uses under its projects root: path separators and
// dots become dashes.
func slashifyPath(workingDir string) string {
	s := strings.ReplaceAll(workingDir, "/", "-")
	return strings.ReplaceAll(s, ".", "-")
}

// projectDirFor locates the conversation directory for a working
// directory, or "" when none exists.
func projectDirFor(workingDir string) string {
	root := projectsRoot()
	if root == "" || workingDir == "" {
		return ""
	}
	dir := filepath.Join(root, slashifyPath(workingDir))
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}

type indexEntry struct {
	Summary string `json:"summary"`
}

// summaryFromIndex reads the last entry's summary from sessions-index.json.
func summaryFromIndex(projectDir string) string {
	data, err := os.ReadFile(filepath.Join(projectDir, "sessions-index.json"))
	if err != nil {
		return ""
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil || len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Summary
}

// summaryFromJSONL scans the most recently modified .jsonl conversation
// file for its last summary record.
func summaryFromJSONL(projectDir string) string {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return ""
	}
	type candidate struct {
		name string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{e.Name(), info.ModTime()})
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })

	f, err := os.Open(filepath.Join(projectDir, files[0].name))
	if err != nil {
		return ""
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, `"type":"summary"`) {
			last = line
		}
	}
	if last == "" {
		return ""
	}
	var rec struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(last), &rec); err != nil {
		return ""
	}
	return rec.Summary
}

// conversationSummary returns the latest conversation summary for a
// working directory, preferring the index file over the raw transcript.
func conversationSummary(workingDir string) string {
	dir := projectDirFor(workingDir)
	if dir == "" {
		return ""
	}
	if s := summaryFromIndex(dir); s != "" {
		return s
	}
	return summaryFromJSONL(dir)
}
