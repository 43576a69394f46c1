package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/edda-voice/edda/pkg/provider/llm"
	"github.com/edda-voice/edda/pkg/types"
)

// WakeWordClassifier decides whether an inactive-session transcription was
// addressed to the assistant. A phonetic pre-pass catches clean hits without
// an LLM call; everything else goes to a narrow YES/NO prompt on the fast
// model, which absorbs the creative ways speech-to-text mangles a name.
type WakeWordClassifier struct {
	llm      llm.Provider
	wakeWord string
	logger   *slog.Logger
}

// NewWakeWordClassifier creates a classifier for the given wake word.
func NewWakeWordClassifier(p llm.Provider, wakeWord string, logger *slog.Logger) *WakeWordClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeWordClassifier{llm: p, wakeWord: wakeWord, logger: logger}
}

// Matches reports whether transcript sounds like it addresses the wake word.
// Classifier failures are logged and treated as no-match; a dropped
// activation is recoverable, a false one is annoying.
func (c *WakeWordClassifier) Matches(ctx context.Context, transcript string) bool {
	if strings.TrimSpace(transcript) == "" {
		return false
	}
	if containsPhoneticMatch(transcript, c.wakeWord) {
		return true
	}
	if c.llm == nil {
		return false
	}

	prompt := fmt.Sprintf(
		"A voice assistant named %q listens for its name. The following text came "+
			"from speech-to-text and may spell the name wrong or mangle it phonetically.\n\n"+
			"Text: %q\n\n"+
			"Was the assistant being addressed by name? Answer with exactly YES or NO.",
		c.wakeWord, transcript)

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages:  []types.ChatMessage{{Role: types.RoleUser, Content: prompt}},
		MaxTokens: 5,
	})
	if err != nil {
		c.logger.Warn("wake word classification failed", "error", err)
		return false
	}
	if resp == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(resp.Content), "YES")
}

// StripWakeWord removes a leading mention of the wake word, so "Nyxie, what
// time is it" becomes "what time is it". Only the first few tokens are
// considered; a mention later in the sentence is content, not address. The
// input is returned unchanged when no mention is found.
func StripWakeWord(transcript, wakeWord string) string {
	fields := strings.Fields(transcript)
	limit := 3
	if len(fields) < limit {
		limit = len(fields)
	}
	for i := 0; i < limit; i++ {
		if tokenMatchesWakeWord(fields[i], wakeWord) {
			rest := strings.Join(fields[i+1:], " ")
			return strings.TrimLeft(rest, " ,.!?:;")
		}
	}
	return transcript
}

func containsPhoneticMatch(transcript, wakeWord string) bool {
	for _, f := range strings.Fields(transcript) {
		if tokenMatchesWakeWord(f, wakeWord) {
			return true
		}
	}
	return false
}

// tokenMatchesWakeWord accepts exact matches and double-metaphone collisions,
// which cover common transcription slips like "Nixie" for "Nyxie".
func tokenMatchesWakeWord(token, wakeWord string) bool {
	token = normalizeToken(token)
	if token == "" {
		return false
	}
	want := strings.ToLower(wakeWord)
	if token == want {
		return true
	}
	p1, s1 := matchr.DoubleMetaphone(token)
	p2, s2 := matchr.DoubleMetaphone(want)
	if p1 == "" && s1 == "" {
		return false
	}
	return p1 == p2 || (s1 != "" && s1 == s2) || (s1 != "" && s1 == p2) || (s2 != "" && p1 == s2)
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.Trim(token, " ,.!?:;\"'"))
}
