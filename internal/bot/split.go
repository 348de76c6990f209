package bot

import (
	"strings"
	"unicode"
)

// MaxMessageLength is the Telegram limit on text message length in characters.
const MaxMessageLength = 4096

// SplitMessage cuts text into parts of at most limit characters, preferring
// to break at whitespace.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	var parts []string

	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}

		part := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
		if part != "" {
			parts = append(parts, part)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}

	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
