package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/gluk-w/muxdeck/internal/mux"
)

// isWordBoundary reports whether b ends a word, so "claude" matches
// "claude", "claude --resume", and "claude-code", but not "claudette".
func isWordBoundary(b byte) bool {
	return !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_')
}

// classifyFast decides from the pane's current command alone whether it is
// running the assistant CLI.
func classifyFast(currentCommand, assistant string) bool {
	if assistant == "" {
		return false
	}
	if currentCommand == assistant {
		return true
	}
	if strings.HasPrefix(currentCommand, assistant) {
		rest := currentCommand[len(assistant):]
		return isWordBoundary(rest[0])
	}
	return false
}

// containsWord reports whether the assistant name appears word-bounded
// anywhere in s.
func containsWord(s, assistant string) bool {
	lower := strings.ToLower(s)
	needle := strings.ToLower(assistant)
	for idx := 0; ; {
		i := strings.Index(lower[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		leftOK := start == 0 || isWordBoundary(lower[start-1])
		rightOK := end == len(lower) || isWordBoundary(lower[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

// classifyDeep inspects the pane pid's child processes for the assistant.
// Used only when the session name suggests the assistant but the pane's
// foreground command does not, e.g. the CLI was launched through a wrapper.
func classifyDeep(ctx context.Context, r mux.Runner, pid int, assistant string) bool {
	if pid <= 0 || assistant == "" {
		return false
	}
	out, err := r.Run(ctx, fmt.Sprintf("pgrep -P %d -a 2>/dev/null", pid))
	if err != nil {
		return false
	}
	return containsWord(out, assistant)
}
