// Package logutil provides helpers for writing untrusted strings to logs.
package logutil

import "strings"

// Sanitize strips control characters from a string destined for a log line,
// preventing log injection via crafted session names or terminal output.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// Truncate shortens a string to at most n runes, appending an ellipsis
// marker when truncation happened.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
