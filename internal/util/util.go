// internal/util/util.go
package util

import (
	"unicode/utf8"
)

// TruncateRunes truncates a string to a maximum number of runes,
// appending an ellipsis if truncated.
func TruncateRunes(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + "…"
}

// TruncateMiddle keeps the head and tail of text and joins them with an
// ellipsis so the result is at most maxRunes runes. Useful for paths, whose
// last segments carry the interesting part.
func TruncateMiddle(text string, maxRunes int) string {
	n := utf8.RuneCountInString(text)
	if n <= maxRunes {
		return text
	}
	if maxRunes <= 1 {
		return "…"
	}
	runes := []rune(text)
	keep := maxRunes - 1
	head := keep / 3
	tail := keep - head
	return string(runes[:head]) + "…" + string(runes[n-tail:])
}
