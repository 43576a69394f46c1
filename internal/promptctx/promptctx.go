// Package promptctx assembles system prompts from templates with {{key}}
// placeholders. Each placeholder is filled by a registered [Provider]; the
// providers whose keys appear in the template are fetched concurrently, so a
// slow provider never serialises prompt assembly behind the others.
//
// A failing provider blanks its placeholder instead of failing the build: a
// prompt without, say, memories is degraded but usable, while no prompt at
// all stalls the whole voice turn.
package promptctx

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Request carries the per-turn inputs providers may consult.
type Request struct {
	// Now is the reference time for the turn. Zero means time.Now.
	Now time.Time

	// UserMessage is the raw transcription being answered.
	UserMessage string

	// ConversationID identifies the active conversation, if any.
	ConversationID string

	// TurnCount is the number of user turns so far, including this one.
	TurnCount int
}

// Provider produces the text for one template placeholder.
//
// GetContext returning an empty string is not an error: the placeholder is
// simply removed. Returning an error has the same visible effect, but the
// failure is logged.
type Provider interface {
	// Key is the placeholder name this provider fills, without braces.
	Key() string

	// Priority orders replacement; lower values are substituted first.
	Priority() int

	GetContext(ctx context.Context, req Request) (string, error)
}

// placeholderPattern matches any {{key}} placeholder left in a template.
var placeholderPattern = regexp.MustCompile(`\{\{\s*[A-Za-z0-9_]+\s*\}\}`)

// blankLinesPattern matches runs of three or more newlines, which appear when
// adjacent placeholders were blanked.
var blankLinesPattern = regexp.MustCompile(`\n{3,}`)

// Builder fills prompt templates from its registered providers.
type Builder struct {
	logger    *slog.Logger
	providers []Provider
}

// Option is a functional option for [NewBuilder].
type Option func(*Builder)

// WithLogger sets the logger used to report provider failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register adds providers. Keys must be unique across the builder.
func (b *Builder) Register(ps ...Provider) error {
	for _, p := range ps {
		if p.Key() == "" {
			return fmt.Errorf("promptctx: provider has empty key")
		}
		for _, existing := range b.providers {
			if existing.Key() == p.Key() {
				return fmt.Errorf("promptctx: duplicate provider key %q", p.Key())
			}
		}
		b.providers = append(b.providers, p)
	}
	return nil
}

// Build fills template from the registered providers and returns the
// assembled prompt. Only providers whose placeholder occurs in the template
// are invoked; they run concurrently. Placeholders left unfilled, by a
// missing provider, an empty result, or an error, are stripped, and runs of
// blank lines are collapsed.
func (b *Builder) Build(ctx context.Context, template string, req Request) string {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	active := make([]Provider, 0, len(b.providers))
	for _, p := range b.providers {
		if strings.Contains(template, "{{"+p.Key()+"}}") {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority() < active[j].Priority()
	})

	values := make([]string, len(active))
	var wg sync.WaitGroup
	for i, p := range active {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := p.GetContext(ctx, req)
			if err != nil {
				b.logger.Warn("context provider failed, blanking placeholder",
					"key", p.Key(), "error", err)
				return
			}
			values[i] = strings.TrimSpace(text)
		}()
	}
	wg.Wait()

	out := template
	for i, p := range active {
		out = strings.ReplaceAll(out, "{{"+p.Key()+"}}", values[i])
	}
	out = placeholderPattern.ReplaceAllString(out, "")
	out = blankLinesPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
