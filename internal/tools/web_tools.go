package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// maxPageBytes caps how much of a fetched page is read.
	maxPageBytes = 2 << 20

	// maxExtractChars caps the text handed back to the model.
	maxExtractChars = 8000

	// maxSearchResults is how many hits a search reports.
	maxSearchResults = 5
)

// WebToolsConfig configures the web-facing tools.
type WebToolsConfig struct {
	// SearchURL is the base URL of a SearXNG instance used for search_web
	// and search_news.
	SearchURL string

	// HTTPClient is used for all requests. A default client with a 15s
	// timeout is used when nil.
	HTTPClient *http.Client
}

// SearchArgs are the arguments for search_web and search_news.
type SearchArgs struct {
	Query string `json:"query" jsonschema:"the search query"`
}

// ExtractArgs are the arguments for extract_webpage.
type ExtractArgs struct {
	URL string `json:"url" jsonschema:"the full http(s) URL of the page to read"`
}

// searxResponse is the subset of SearXNG's JSON response we consume.
type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewWebTools returns search_web, search_news, and extract_webpage backed by
// a SearXNG metasearch instance and plain HTTP fetching.
func NewWebTools(cfg WebToolsConfig) ([]Tool, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("tools: web tools require a search URL")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimRight(cfg.SearchURL, "/")

	searchWeb := MustNewTool("search_web",
		"Search the web. Use for current events, facts you are unsure about, or anything after your knowledge cutoff.",
		func(ctx context.Context, args SearchArgs) (Result, error) {
			return runSearch(ctx, client, base, args.Query, "general")
		})

	searchNews := MustNewTool("search_news",
		"Search recent news articles. Use when the user asks what is happening or about a developing story.",
		func(ctx context.Context, args SearchArgs) (Result, error) {
			return runSearch(ctx, client, base, args.Query, "news")
		})

	extract := MustNewTool("extract_webpage",
		"Fetch a web page and return its readable text. Use after a search to read a promising result in full.",
		func(ctx context.Context, args ExtractArgs) (Result, error) {
			return extractPage(ctx, client, args.URL)
		})

	return []Tool{searchWeb, searchNews, extract}, nil
}

func runSearch(ctx context.Context, client *http.Client, base, query, category string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return InvalidInputf("query must not be empty"), nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", category)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/search?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build search request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimited("search engine is rate limiting requests"), nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return NoResults(fmt.Sprintf("no results for %q", query)), nil
	}

	var sb strings.Builder
	for i, r := range parsed.Results {
		if i >= maxSearchResults {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	return Success(strings.TrimSpace(sb.String())), nil
}

func extractPage(ctx context.Context, client *http.Client, pageURL string) (Result, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return InvalidInputf("invalid URL %q", pageURL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimited("page returned status 429"), nil
	}
	if resp.StatusCode != http.StatusOK {
		return Errorf("page returned status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read page: %w", err)
	}

	text := stripHTML(string(body))
	if text == "" {
		return NoResults("page contained no readable text"), nil
	}
	text = truncateOnRune(text, maxExtractChars)
	return Success(text), nil
}

// truncateOnRune caps s at max bytes without cutting through a multi-byte
// rune, appending an ellipsis when anything was dropped.
func truncateOnRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// stripHTML reduces an HTML document to its visible text: script and style
// blocks are dropped, tags removed, and whitespace collapsed.
func stripHTML(html string) string {
	var (
		sb       strings.Builder
		inTag    bool
		skipping bool // inside <script>…</script> or <style>…</style>
	)

	lower := strings.ToLower(html)
	for i := 0; i < len(html); i++ {
		c := html[i]
		switch {
		case c == '<':
			inTag = true
			switch {
			case strings.HasPrefix(lower[i:], "<script"), strings.HasPrefix(lower[i:], "<style"):
				skipping = true
			case strings.HasPrefix(lower[i:], "</script"), strings.HasPrefix(lower[i:], "</style"):
				skipping = false
			}
		case c == '>' && inTag:
			inTag = false
			// Tag boundaries become whitespace so adjacent blocks don't fuse.
			sb.WriteByte(' ')
		case !inTag && !skipping:
			sb.WriteByte(c)
		}
	}

	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	var sb strings.Builder
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		sb.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(sb.String())
}
