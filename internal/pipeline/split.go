package pipeline

import (
	"strings"
	"unicode"
)

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitSentences breaks a full reply into sentences at whitespace that
// follows a run of terminators. Runs like "?!" or "..." stay attached to the
// sentence they end.
func splitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var (
		out []string
		cur []rune
	)
	for i := 0; i < len(runes); i++ {
		cur = append(cur, runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		// Boundary only at the end of the terminator run, before whitespace.
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			out = append(out, string(cur))
			cur = cur[:0]
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
		}
	}
	if s := strings.TrimSpace(string(cur)); s != "" {
		out = append(out, s)
	}
	return out
}
