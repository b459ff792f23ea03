package validators

import (
	"strings"
	"unicode"
)

// SanitizeString collapses whitespace runs to a single space, drops control
// characters and cuts the result to at most maxLen runes.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Join(strings.Fields(strings.Map(dropControl, input)), " ")
	if maxLen <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= maxLen {
		return cleaned
	}
	return strings.TrimRightFunc(string(runes[:maxLen]), unicode.IsSpace)
}

func dropControl(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	if unicode.IsControl(r) || r == unicode.ReplacementChar {
		return -1
	}
	return r
}
