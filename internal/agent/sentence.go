package agent

import (
	"regexp"
	"strings"
)

// sentencePattern matches a leading sentence in the buffer: minimal text up
// to a run of terminators, which must be followed by whitespace or the end of
// the buffer. The greedy `[.!?]+` run consumes a whole ellipsis as one
// terminator instead of splitting inside it.
var sentencePattern = regexp.MustCompile(`(?s)^(.+?[.!?]+)(?:\s+|$)`)

// sentenceSplitter incrementally extracts complete sentences from streamed
// text. Buffered text without a terminator waits for more input.
type sentenceSplitter struct {
	buf string
}

// push appends delta to the buffer and returns every complete sentence now
// extractable, in order.
func (s *sentenceSplitter) push(delta string) []string {
	s.buf += delta
	var out []string
	for s.buf != "" {
		m := sentencePattern.FindStringSubmatchIndex(s.buf)
		if m == nil {
			break
		}
		sentence := strings.TrimSpace(s.buf[m[2]:m[3]])
		s.buf = s.buf[m[1]:]
		if sentence != "" {
			out = append(out, sentence)
		}
	}
	return out
}

// flush returns whatever remains in the buffer, trimmed, and resets it.
// Called at stream end so trailing text without a terminator is still spoken.
func (s *sentenceSplitter) flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}
