package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gluk-w/muxdeck/internal/mux"
)

// Assistant operation status inference. Four heuristic levels; the first
// match wins: terminal buffer, conversation activity file, external HUD,
// then idle.

const (
	OpThinking        = "thinking"
	OpWaitingForInput = "waiting_for_input"
	OpError           = "error"
	OpIdle            = "idle"
)

// spinnerRunes are the Braille spinner codepoints assistant CLIs animate
// while working.
const spinnerRunes = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏⠐⠠⠄⠂⠁"

var thinkingKeywords = []string{
	"thinking…", "thinking...",
	"running tool…", "running tool...",
	"searching…", "searching...",
	"reading…", "reading...",
	"writing…", "writing...",
	"executing…", "executing...",
}

var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Error:`),
	regexp.MustCompile(`^error\[E\d+\]`),
	regexp.MustCompile(`ToolError:`),
	regexp.MustCompile(`APIError:`),
	regexp.MustCompile(`^FAILED:`),
	regexp.MustCompile(`^panic:`),
	regexp.MustCompile(`^fatal:`),
	regexp.MustCompile(`^Exception:`),
	regexp.MustCompile(`^\s*×`),
}

// activityWindow is how recently a conversation .jsonl must have been
// written for the assistant to be considered mid-operation.
const activityWindow = 30 * time.Second

func containsSpinner(s string) bool {
	return strings.ContainsAny(s, spinnerRunes)
}

// statusFromBuffer applies the terminal-buffer heuristics to the last few
// captured lines. Empty result means no verdict at this level.
func statusFromBuffer(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}

	var cleaned []string
	for _, l := range lines {
		cleaned = append(cleaned, strings.TrimSpace(mux.StripANSI(l)))
	}

	for _, l := range cleaned {
		if containsSpinner(l) {
			return OpThinking
		}
		lower := strings.ToLower(l)
		for _, kw := range thinkingKeywords {
			if strings.Contains(lower, kw) {
				return OpThinking
			}
		}
	}

	last := ""
	for i := len(cleaned) - 1; i >= 0; i-- {
		if cleaned[i] != "" {
			last = cleaned[i]
			break
		}
	}
	if last == ">" || last == "❯" || last == "human>" {
		return OpWaitingForInput
	}

	for _, l := range cleaned {
		for _, p := range errorPatterns {
			if p.MatchString(l) {
				return OpError
			}
		}
	}
	return ""
}

// recentConversationActivity reports whether any .jsonl in the project
// directory was modified within the activity window.
func recentConversationActivity(projectDir string, now time.Time) bool {
	if projectDir == "" {
		return false
	}
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= activityWindow {
			return true
		}
	}
	return false
}

// hudStateFiles are the state JSONs an external HUD may drop into its .omc
// directory.
var hudStateFiles = []string{"state.json", "status.json", "hud.json"}

// hudIndicatesActive inspects a .omc directory in the working directory:
// a spinner in the status bar or an "active": true state file means the
// assistant is working.
func hudIndicatesActive(workingDir, statusBar string) bool {
	if workingDir == "" {
		return false
	}
	omc := filepath.Join(workingDir, ".omc")
	if info, err := os.Stat(omc); err != nil || !info.IsDir() {
		return false
	}
	if containsSpinner(statusBar) {
		return true
	}
	for _, name := range hudStateFiles {
		data, err := os.ReadFile(filepath.Join(omc, name))
		if err != nil {
			continue
		}
		var state struct {
			Active bool `json:"active"`
		}
		if json.Unmarshal(data, &state) == nil && state.Active {
			return true
		}
	}
	return false
}

// StatusFromWindow applies the terminal-buffer heuristics to a raw chunk
// of streamed output. Used by the terminal bridge's incremental detector,
// which has no pane to capture, only the bytes flowing through it.
func StatusFromWindow(window string) string {
	return statusFromBuffer(strings.Split(window, "\n"))
}

// AssistantStatus infers what an assistant session is doing right now.
func AssistantStatus(bufferLines []string, projectDir, workingDir, statusBar string, now time.Time) string {
	if st := statusFromBuffer(bufferLines); st != "" {
		return st
	}
	if recentConversationActivity(projectDir, now) {
		return OpThinking
	}
	if hudIndicatesActive(workingDir, statusBar) {
		return OpThinking
	}
	return OpIdle
}
