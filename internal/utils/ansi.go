// Package utils holds small text helpers shared by the output layers.
package utils

import (
	"regexp"
	"strings"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SanitizeInput removes ANSI codes and other control characters (except newlines/tabs)
// that could mess up terminal display. Commands recorded from agents are
// untrusted and go through here before they are rendered.
func SanitizeInput(s string) string {
	s = StripANSI(s)
	// Replace other control characters (0x00-0x1F) except \n (0xA) and \t (0x9)
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1 // Drop
		}
		return r
	}, s)
}

// SingleLine sanitizes s and folds its whitespace runs, newlines included,
// into single spaces.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(SanitizeInput(s)), " ")
}

// Truncate shortens s to at most max runes, ending with "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
