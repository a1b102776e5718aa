package mux

import (
	"regexp"
	"strings"
)

// ansiRe matches CSI sequences, OSC sequences (BEL or ST terminated), and
// bare two-byte escapes.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-_]`)

// styleTagRe matches tmux style tags such as #[fg=green,bold].
var styleTagRe = regexp.MustCompile(`#\[[^\]]*\]`)

// StripANSI removes ANSI escape sequences and non-printable control bytes.
func StripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func stripStyleTags(s string) string {
	return styleTagRe.ReplaceAllString(s, "")
}
