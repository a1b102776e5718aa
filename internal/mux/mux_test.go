package mux

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedRunner returns canned output for commands matched by substring.
type scriptedRunner struct {
	outputs  map[string]string
	err      error
	commands []string
}

func (r *scriptedRunner) Run(_ context.Context, command string) (string, error) {
	r.commands = append(r.commands, command)
	if r.err != nil {
		return "", r.err
	}
	for key, out := range r.outputs {
		if strings.Contains(command, key) {
			return out, nil
		}
	}
	return "", nil
}

func TestListSessionsParsesRows(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"list-sessions": "$0|||main|||2|||1700000000\n$1|||scratch|||1|||1700000100\n",
	}}
	sessions := New().ListSessions(context.Background(), r)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "$0" || sessions[0].Name != "main" || sessions[0].Windows != 2 {
		t.Fatalf("unexpected first session: %+v", sessions[0])
	}
	if sessions[1].CreatedUnix != 1700000100 {
		t.Fatalf("unexpected created time: %d", sessions[1].CreatedUnix)
	}
}

func TestListSessionsDiscardsMalformedRows(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"list-sessions": "$0|||main|||2|||1700000000\ngarbage line\n$1|||bad|||notanumber|||5\n",
	}}
	sessions := New().ListSessions(context.Background(), r)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Name != "main" {
		t.Fatalf("unexpected session: %+v", sessions[0])
	}
}

func TestListSessionsErrorYieldsEmpty(t *testing.T) {
	r := &scriptedRunner{err: errors.New("connection lost")}
	if sessions := New().ListSessions(context.Background(), r); sessions != nil {
		t.Fatalf("expected nil on error, got %v", sessions)
	}
}

func TestListSessionsNameWithSpaces(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"list-sessions": "$0|||my project dir|||1|||1700000000\n",
	}}
	sessions := New().ListSessions(context.Background(), r)
	if len(sessions) != 1 || sessions[0].Name != "my project dir" {
		t.Fatalf("space-containing name mangled: %+v", sessions)
	}
}

func TestListPanesParsesRows(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"list-panes": "%0|||1234|||claude|||80|||24|||0|||/home/me/proj\n%1|||1250|||bash|||80|||24|||1|||/home/me\n",
	}}
	panes := New().ListPanes(context.Background(), r, "main")
	if len(panes) != 2 {
		t.Fatalf("expected 2 panes, got %d", len(panes))
	}
	p := panes[0]
	if p.ID != "%0" || p.PID != 1234 || p.CurrentCommand != "claude" || p.CurrentPath != "/home/me/proj" {
		t.Fatalf("unexpected pane: %+v", p)
	}
	if p.Width != 80 || p.Height != 24 || p.WindowIndex != 0 {
		t.Fatalf("unexpected geometry: %+v", p)
	}
}

func TestCaptureLastLineSkipsBlankAndStripsANSI(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"capture-pane": "first line\n\x1b[32msecond line\x1b[0m\n\n   \n",
	}}
	got := New().CaptureLastLine(context.Background(), r, "main", "%0")
	if got != "second line" {
		t.Fatalf("expected %q, got %q", "second line", got)
	}
}

func TestCaptureLastLineTruncates(t *testing.T) {
	long := strings.Repeat("x", 250)
	r := &scriptedRunner{outputs: map[string]string{"capture-pane": long + "\n"}}
	got := New().CaptureLastLine(context.Background(), r, "main", "%0")
	if len(got) != 100 {
		t.Fatalf("expected 100 chars, got %d", len(got))
	}
}

func TestCaptureStatusBarStripsStyleTags(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{
		"display-message": "#[fg=green,bold]⠋ thinking#[default] | 14:02\n",
	}}
	got := New().CaptureStatusBar(context.Background(), r, "main")
	if got != "⠋ thinking | 14:02" {
		t.Fatalf("unexpected status bar: %q", got)
	}
}

func TestHasSession(t *testing.T) {
	r := &scriptedRunner{outputs: map[string]string{"has-session": "yes\n"}}
	if !New().HasSession(context.Background(), r, "main") {
		t.Fatal("expected session to exist")
	}
	r = &scriptedRunner{}
	if New().HasSession(context.Background(), r, "main") {
		t.Fatal("expected session to be absent")
	}
}

func TestCreateSessionCommandShape(t *testing.T) {
	r := &scriptedRunner{}
	if err := New().CreateSession(context.Background(), r, "work", "/tmp/proj", "claude"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(r.commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(r.commands))
	}
	cmd := r.commands[0]
	for _, want := range []string{"new-session -d", "-s 'work'", "-c '/tmp/proj'", "'claude'"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command %q missing %q", cmd, want)
		}
	}
}

func TestCreateSessionOmitsOptionalArgs(t *testing.T) {
	r := &scriptedRunner{}
	if err := New().CreateSession(context.Background(), r, "work", "", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	cmd := r.commands[0]
	if strings.Contains(cmd, " -c ") {
		t.Errorf("command %q should not set a working dir", cmd)
	}
}

func TestSendKeysQuotesSingleQuotes(t *testing.T) {
	r := &scriptedRunner{}
	if err := New().SendKeys(context.Background(), r, "main", "%0", "echo 'hi'"); err != nil {
		t.Fatalf("send keys: %v", err)
	}
	cmd := r.commands[0]
	if !strings.Contains(cmd, `'\''`) {
		t.Errorf("embedded quote not escaped in %q", cmd)
	}
	if !strings.Contains(cmd, "-t 'main:.%0'") {
		t.Errorf("pane target missing in %q", cmd)
	}
}

func TestAttachCommandAndArgs(t *testing.T) {
	a := New()
	if got := a.AttachCommand("main"); got != "tmux attach-session -t 'main'" {
		t.Fatalf("unexpected attach command: %q", got)
	}
	args := a.AttachArgs("main")
	want := []string{"tmux", "attach-session", "-t", "main"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args: %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("unexpected args: %v", args)
		}
	}
}

func TestCustomBinary(t *testing.T) {
	a := &Adapter{Bin: "/opt/tmux/bin/tmux"}
	r := &scriptedRunner{}
	a.ListSessions(context.Background(), r)
	if !strings.HasPrefix(r.commands[0], "/opt/tmux/bin/tmux ") {
		t.Fatalf("custom binary not used: %q", r.commands[0])
	}
}

func TestStripANSI(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"color", "\x1b[31mred\x1b[0m", "red"},
		{"cursor", "\x1b[2Jcleared", "cleared"},
		{"osc title", "\x1b]0;title\x07after", "after"},
		{"control bytes", "a\x08b\x00c", "abc"},
		{"keeps tabs and newlines", "a\tb\nc", "a\tb\nc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripANSI(tc.in); got != tc.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
