package roomcleaner

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses bounds how many layers of entity encoding are peeled.
const maxSanitizePasses = 8

var promptPolicy = bluemonday.StrictPolicy()

// SanitizePrompt reduces a caller supplied prompt to plain text. Markup hidden
// behind entity encoding is unescaped and stripped again until the text stops
// changing, so the result never contains a tag.
func SanitizePrompt(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	s := p
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(promptPolicy.Sanitize(s))
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
	// still changing: keep the escaped form rather than risk live markup
	return strings.TrimSpace(promptPolicy.Sanitize(s))
}
