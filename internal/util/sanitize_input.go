package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFieldLength = 2000

// SanitizeInput trims a free-text field coming from the browser, drops control
// characters other than newlines and tabs, and bounds its length.
func SanitizeInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if len(s) > maxFieldLength {
		s = s[:maxFieldLength]
		for !utf8.ValidString(s) {
			s = s[:len(s)-1]
		}
	}
	return s
}

// IsBlank reports whether s has no non-whitespace content.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
