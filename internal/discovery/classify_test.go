package discovery

import (
	"context"
	"strings"
	"testing"
)

func TestClassifyFast(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"claude", true},
		{"claude --resume", true},
		{"claude-code", true},
		{"claudette", false},
		{"bash", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := classifyFast(tt.command, "claude"); got != tt.want {
				t.Errorf("classifyFast(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"claude", true},
		{"my-claude-work", true},
		{"12345 node claude --verbose", true},
		{"claudette-session", false},
		{"unclaude", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			if got := containsWord(tt.s, "claude"); got != tt.want {
				t.Errorf("containsWord(%q) = %v, want %v", tt.s, got, tt.want)
			}
		})
	}
}

type scriptedRunner struct {
	replies map[string]string
}

func (r scriptedRunner) Run(_ context.Context, command string) (string, error) {
	for needle, out := range r.replies {
		if strings.Contains(command, needle) {
			return out, nil
		}
	}
	return "", nil
}

func TestClassifyDeep(t *testing.T) {
	runner := scriptedRunner{replies: map[string]string{
		"pgrep -P 100": "2001 node /usr/local/bin/claude\n",
		"pgrep -P 200": "3001 vim notes.txt\n",
	}}

	if !classifyDeep(context.Background(), runner, 100, "claude") {
		t.Error("child process running the assistant not detected")
	}
	if classifyDeep(context.Background(), runner, 200, "claude") {
		t.Error("unrelated child process misclassified")
	}
	if classifyDeep(context.Background(), runner, 0, "claude") {
		t.Error("pid 0 should never classify")
	}
}
