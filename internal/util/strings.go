// Package util holds small string helpers for recorder output.
package util

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// TruncateString truncates a string to maxLen runes, adding "..." if truncated.
// It does not account for escape codes; run CleanLine first on terminal output.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// CleanLine turns one raw line of pty output into what a terminal would show:
// escape sequences are removed, and when the line was redrawn with carriage
// returns only the last drawing is kept.
func CleanLine(line string) string {
	line = ansi.Strip(strings.TrimRight(line, "\r\n"))
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return line
}

// LastLine returns the final non-empty line of s, cleaned.
func LastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && s[start-1] != '\n' {
		start--
	}
	return CleanLine(s[start:end])
}
