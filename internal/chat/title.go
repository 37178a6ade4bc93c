package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const titlePrefixLen = 30

// DeriveTitle turns the first user message of a session into a short label.
// It is a pure function of its input.
func DeriveTitle(first string) string {
	trimmed := strings.TrimSpace(first)
	if trimmed == "" {
		return DefaultSessionTitle
	}
	lower := strings.ToLower(trimmed)

	switch {
	case strings.Contains(lower, "help") || strings.Contains(lower, "how"):
		return "Help Request"
	case strings.Contains(lower, "code") || strings.Contains(lower, "programming"):
		return "Code Discussion"
	case strings.Contains(lower, "explain") || strings.Contains(lower, "what is"):
		return "Explanation"
	case strings.Contains(lower, "create") || strings.Contains(lower, "build"):
		return "Project Creation"
	}

	var words []string
	for _, w := range strings.Fields(lower) {
		if utf8.RuneCountInString(w) > 3 {
			words = append(words, capitalize(w))
			if len(words) == 3 {
				break
			}
		}
	}
	if len(words) > 0 {
		return strings.Join(words, " ")
	}

	if utf8.RuneCountInString(trimmed) > titlePrefixLen {
		return string([]rune(trimmed)[:titlePrefixLen]) + "..."
	}
	return trimmed
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	return string(unicode.ToUpper(r)) + w[size:]
}
