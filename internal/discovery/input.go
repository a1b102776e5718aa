package discovery

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gluk-w/muxdeck/internal/mux"
)

// User-input extraction: find the most recent line of a captured pane
// buffer that looks like something the user typed at a prompt.

const (
	maxUserInputLen   = 200
	userInputTruncLen = 100
)

var systemLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(claude|assistant|thinking|loading|waiting)`),
	regexp.MustCompile(`^\[.*\]$`),
	regexp.MustCompile(`^─+$`),
	regexp.MustCompile(`^═+$`),
	regexp.MustCompile(`^•`),
	regexp.MustCompile(`^-{3,}`),
	regexp.MustCompile(`^\d+\.`),
}

// Prompt patterns tried in order; the first capture that validates wins.
var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^>\s*(.+)$`),
	regexp.MustCompile(`^❯\s*(.+)$`),
	regexp.MustCompile(`^[Hh]uman>\s*(.+)$`),
	regexp.MustCompile(`^\S*[$%]\s+(.+)$`),
	regexp.MustCompile(`>\s+(.+)$`),
}

func isSystemLine(line string) bool {
	if line == "" {
		return true
	}
	for _, p := range systemLinePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// isValidUserInput rejects empty, oversized, and decorative captures.
func isValidUserInput(s string) bool {
	if s == "" || len([]rune(s)) > maxUserInputLen {
		return false
	}
	for _, r := range s {
		switch {
		case r == '-' || r == '.':
		case unicode.IsSpace(r) || unicode.IsControl(r):
		default:
			return true
		}
	}
	return false
}

// ExtractUserInput scans captured lines bottom-up and returns the last
// thing the user appears to have typed, truncated to 100 chars.
func ExtractUserInput(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(mux.StripANSI(lines[i]))
		if isSystemLine(line) {
			continue
		}
		for _, p := range promptPatterns {
			m := p.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			captured := strings.TrimSpace(m[1])
			if isValidUserInput(captured) {
				return truncateRunes(captured, userInputTruncLen)
			}
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
