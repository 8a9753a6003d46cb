package transform

import (
	"strings"
	"unicode/utf8"
)

const fallbackPrefixRunes = 100

func isTerminator(r rune) bool {
	switch r {
	case '.', '?', '!', '。', '？', '！':
		return true
	}
	return false
}

// Sentences splits text after each terminator. Trailing text without a
// terminator forms a final sentence.
func Sentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if !isTerminator(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// FirstSentence returns the text up to and including the earliest terminator.
// Without one it returns the first 100 runes followed by "...".
func FirstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if isTerminator(r) && i > 0 {
			return text[:i+utf8.RuneLen(r)]
		}
	}
	if utf8.RuneCountInString(text) <= fallbackPrefixRunes {
		return text + "..."
	}
	runes := []rune(text)
	return string(runes[:fallbackPrefixRunes]) + "..."
}
