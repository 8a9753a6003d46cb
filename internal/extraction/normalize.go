package extraction

import (
	"strings"
	"unicode"
)

// Normalize collapses every run of whitespace into a single space and trims the result.
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// printableRatio returns the share of runes in text that are printable.
// Private use code points and U+FFFD count as garbage.
func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	if r == unicode.ReplacementChar {
		return true
	}
	return r < 0x20 && r != '\n' && r != '\r' && r != '\t'
}
