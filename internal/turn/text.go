package turn

import (
	"strings"
	"unicode"
)

// Normalize strips punctuation and emoji from a transcript and collapses
// runs of whitespace. Letter case is preserved: command matching is
// case-sensitive by contract.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			// Emoji land in the symbol categories.
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SplitSentences cuts generated text at sentence punctuation, returning the
// non-empty trimmed segments in order.
func SplitSentences(text string) []string {
	var segments []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			segments = append(segments, s)
		}
		b.Reset()
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', ';', '。', '！', '？', '；', '\n':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return segments
}
