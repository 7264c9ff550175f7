// Package textnorm canonicalizes free text before any similarity analysis:
// URLs are stripped, case is folded and every run of non-alphanumeric
// characters collapses into a single space.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

// urlPattern matches http(s):// links and bare www. tokens up to the next
// whitespace.
var urlPattern = regexp.MustCompile(`(?i)(https?://\S*|www\.\S*)`)

// Normalize returns the canonical form of text. It never fails; empty input
// yields an empty string.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	lowered := strings.ToLower(text)
	stripped := urlPattern.ReplaceAllString(lowered, " ")

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// Join normalizes title and description as a single text, the way listing
// submissions are compared.
func Join(title, description string) string {
	return Normalize(title + " " + description)
}
