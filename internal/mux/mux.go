// Package mux builds and parses commands against the external terminal
// multiplexer (tmux). The same command strings run over a local shell or a
// remote SSH exec, so every operation is parameterized by a Runner.
//
// All format strings use a three-pipe field delimiter so that shell
// tokenization cannot split a field. Rows whose field count does not match
// the format are discarded as malformed.
package mux

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Delimiter separates fields in tmux -F format strings.
const Delimiter = "|||"

// Runner executes a shell command and returns its captured stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// LocalRunner executes commands on the local machine through sh -c.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, command string) (string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", command).Output()
	if err != nil {
		// Match the remote exec contract: a non-zero exit with empty stderr
		// is an empty result, not a failure (tmux exits 1 when not running).
		if ee, ok := err.(*exec.ExitError); ok && len(strings.TrimSpace(string(ee.Stderr))) == 0 {
			return "", nil
		}
		return "", err
	}
	return string(out), nil
}

// Session is one multiplexer session as reported by list-sessions.
type Session struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Windows     int    `json:"windows"`
	CreatedUnix int64  `json:"created_unix"`
}

// Pane is one pane as reported by list-panes.
type Pane struct {
	ID             string `json:"id"`
	PID            int    `json:"pid"`
	CurrentCommand string `json:"current_command"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	WindowIndex    int    `json:"window_index"`
	CurrentPath    string `json:"current_path"`
}

// Adapter builds tmux commands. Bin defaults to "tmux".
type Adapter struct {
	Bin string
}

// New returns an Adapter for the default tmux binary.
func New() *Adapter {
	return &Adapter{Bin: "tmux"}
}

func (a *Adapter) bin() string {
	if a.Bin == "" {
		return "tmux"
	}
	return a.Bin
}

const (
	sessionFormat = "#{session_id}|||#{session_name}|||#{session_windows}|||#{session_created}"
	paneFormat    = "#{pane_id}|||#{pane_pid}|||#{pane_current_command}|||#{pane_width}|||#{pane_height}|||#{window_index}|||#{pane_current_path}"
)

// ListSessions enumerates multiplexer sessions. A multiplexer that is not
// running yields an empty list, never an error.
func (a *Adapter) ListSessions(ctx context.Context, r Runner) []Session {
	cmd := fmt.Sprintf("%s list-sessions -F %s 2>/dev/null", a.bin(), shellQuote(sessionFormat))
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return nil
	}

	var sessions []Session
	for _, line := range splitLines(out) {
		fields := strings.Split(line, Delimiter)
		if len(fields) != 4 {
			continue
		}
		windows, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		created, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			continue
		}
		sessions = append(sessions, Session{
			ID:          fields[0],
			Name:        fields[1],
			Windows:     windows,
			CreatedUnix: created,
		})
	}
	return sessions
}

// ListPanes enumerates the panes of one session across all its windows.
func (a *Adapter) ListPanes(ctx context.Context, r Runner, sessionName string) []Pane {
	cmd := fmt.Sprintf("%s list-panes -s -t %s -F %s 2>/dev/null",
		a.bin(), shellQuote(sessionName), shellQuote(paneFormat))
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return nil
	}

	var panes []Pane
	for _, line := range splitLines(out) {
		fields := strings.Split(line, Delimiter)
		if len(fields) != 7 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		width, _ := strconv.Atoi(fields[3])
		height, _ := strconv.Atoi(fields[4])
		windowIndex, _ := strconv.Atoi(fields[5])
		panes = append(panes, Pane{
			ID:             fields[0],
			PID:            pid,
			CurrentCommand: fields[2],
			Width:          width,
			Height:         height,
			WindowIndex:    windowIndex,
			CurrentPath:    fields[6],
		})
	}
	return panes
}

// maxLastLineLen bounds the captured last output line.
const maxLastLineLen = 100

// CaptureLastLine returns the last non-empty line of the pane's recent
// output, cleaned of ANSI and control bytes and truncated to 100 chars.
func (a *Adapter) CaptureLastLine(ctx context.Context, r Runner, sessionName, paneID string) string {
	target := paneTarget(sessionName, paneID)
	cmd := fmt.Sprintf("%s capture-pane -p -S -5 -t %s 2>/dev/null", a.bin(), shellQuote(target))
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return ""
	}

	lines := splitLines(out)
	for i := len(lines) - 1; i >= 0; i-- {
		clean := strings.TrimSpace(StripANSI(lines[i]))
		if clean != "" {
			return truncate(clean, maxLastLineLen)
		}
	}
	return ""
}

// maxStatusBarLen bounds the captured status bar text.
const maxStatusBarLen = 150

// CaptureStatusBar returns the session's expanded status-right content,
// cleaned of style tags and control bytes, truncated to 150 chars.
func (a *Adapter) CaptureStatusBar(ctx context.Context, r Runner, sessionName string) string {
	cmd := fmt.Sprintf("%s display-message -p -t %s '#{T:status-right}' 2>/dev/null",
		a.bin(), shellQuote(sessionName))
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return ""
	}
	clean := strings.TrimSpace(StripANSI(stripStyleTags(out)))
	return truncate(clean, maxStatusBarLen)
}

// CaptureRecentBuffer returns the last n lines of the pane for user-input
// extraction. Lines are returned raw; callers strip ANSI as needed.
func (a *Adapter) CaptureRecentBuffer(ctx context.Context, r Runner, sessionName, paneID string, n int) []string {
	target := paneTarget(sessionName, paneID)
	cmd := fmt.Sprintf("%s capture-pane -p -S -%d -t %s 2>/dev/null", a.bin(), n, shellQuote(target))
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return nil
	}
	return splitLines(out)
}

// CreateSession starts a detached session. workingDir and command are optional.
func (a *Adapter) CreateSession(ctx context.Context, r Runner, name, workingDir, command string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s new-session -d -s %s", a.bin(), shellQuote(name))
	if workingDir != "" {
		fmt.Fprintf(&b, " -c %s", shellQuote(workingDir))
	}
	if command != "" {
		fmt.Fprintf(&b, " %s", shellQuote(command))
	}
	if _, err := r.Run(ctx, b.String()); err != nil {
		return fmt.Errorf("create session %q: %w", name, err)
	}
	return nil
}

// KillSession terminates a session by name.
func (a *Adapter) KillSession(ctx context.Context, r Runner, name string) error {
	cmd := fmt.Sprintf("%s kill-session -t %s 2>/dev/null", a.bin(), shellQuote(name))
	if _, err := r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("kill session %q: %w", name, err)
	}
	return nil
}

// KillPane terminates a single pane.
func (a *Adapter) KillPane(ctx context.Context, r Runner, sessionName, paneID string) error {
	target := paneTarget(sessionName, paneID)
	cmd := fmt.Sprintf("%s kill-pane -t %s 2>/dev/null", a.bin(), shellQuote(target))
	if _, err := r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("kill pane %q: %w", target, err)
	}
	return nil
}

// HasSession reports whether a session with the given name exists.
func (a *Adapter) HasSession(ctx context.Context, r Runner, name string) bool {
	cmd := fmt.Sprintf("%s has-session -t %s 2>/dev/null && echo yes", a.bin(), shellQuote(name))
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "yes"
}

// SendKeys injects literal input into a pane.
func (a *Adapter) SendKeys(ctx context.Context, r Runner, sessionName, paneID, keys string) error {
	target := paneTarget(sessionName, paneID)
	cmd := fmt.Sprintf("%s send-keys -t %s -l %s", a.bin(), shellQuote(target), shellQuote(keys))
	if _, err := r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("send keys to %q: %w", target, err)
	}
	return nil
}

// AttachCommand returns the command the terminal bridge runs to attach.
// Attachment is at the session level, not a specific pane.
func (a *Adapter) AttachCommand(sessionName string) string {
	return fmt.Sprintf("%s attach-session -t %s", a.bin(), shellQuote(sessionName))
}

// AttachArgs is the argv form of AttachCommand for local PTY execution.
func (a *Adapter) AttachArgs(sessionName string) []string {
	return []string{a.bin(), "attach-session", "-t", sessionName}
}

func paneTarget(sessionName, paneID string) string {
	// tmux pane ids (%N) are server-global; scope by session name anyway so
	// the target stays unambiguous in logs and across restarts.
	return sessionName + ":." + paneID
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// shellQuote wraps s in single quotes, escaping embedded single quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
