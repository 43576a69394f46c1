// Package openai provides an LLM provider backed by any OpenAI-compatible
// chat completions API (OpenAI, OpenRouter, local servers).
//
// Beyond the standard surface it preserves the non-standard fields reasoning
// models emit: per-message reasoning_details and per-tool-call
// thought_signature are captured from responses and replayed verbatim on
// subsequent requests, so the model can resume its reasoning trace across
// tool rounds.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/edda-voice/edda/pkg/provider/llm"
	"github.com/edda-voice/edda/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using the OpenAI Go SDK.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to point the
// provider at OpenRouter or a local OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how many times transient failures (429, 5xx, connection
// errors) are retried by the underlying SDK. Default: 3.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI-compatible LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{maxRetries: 3}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	params.StreamOptions = oai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		toolCalls := newToolCallAccumulator()
		reasoning := newReasoningAccumulator()
		var usage *types.Usage
		var final *llm.Chunk

		for stream.Next() {
			chunk := stream.Current()

			// The usage-only chunk arrives with empty choices, after the
			// finish-reason chunk.
			if chunk.JSON.Usage.Valid() {
				usage = &types.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			for _, tc := range delta.ToolCalls {
				toolCalls.add(tc)
			}
			if f, ok := delta.JSON.ExtraFields["reasoning_details"]; ok {
				reasoning.add([]byte(f.Raw()))
			}

			if choice.FinishReason != "" {
				// Hold the final chunk until the stream drains so the trailing
				// usage chunk can be folded into it.
				final = &llm.Chunk{
					Text:             delta.Content,
					FinishReason:     choice.FinishReason,
					ToolCalls:        toolCalls.result(),
					ReasoningDetails: reasoning.result(),
				}
				continue
			}
			if delta.Content == "" {
				continue
			}

			select {
			case ch <- llm.Chunk{Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
			return
		}
		if final != nil {
			final.Usage = usage
			select {
			case ch <- *final:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: types.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call := types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
		if f, ok := tc.JSON.ExtraFields["thought_signature"]; ok {
			_ = json.Unmarshal([]byte(f.Raw()), &call.ThoughtSignature)
		}
		result.ToolCalls = append(result.ToolCalls, call)
	}
	if f, ok := choice.Message.JSON.ExtraFields["reasoning_details"]; ok {
		var details []types.ReasoningDetail
		if err := json.Unmarshal([]byte(f.Raw()), &details); err != nil {
			slog.Warn("openai: unparseable reasoning_details in response", "err", err)
		} else {
			result.ReasoningDetails = details
		}
	}
	return result, nil
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}

	return params, nil
}

// convertMessage converts a types.ChatMessage to an OpenAI SDK message param.
// Assistant messages replay their reasoning_details and tool-call
// thought_signature fields exactly as received.
func convertMessage(m types.ChatMessage) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case types.RoleUser:
		return oai.UserMessage(m.Content), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			tcp := oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			}
			if tc.ThoughtSignature != "" {
				tcp.SetExtraFields(map[string]any{
					"thought_signature": tc.ThoughtSignature,
				})
			}
			asst.ToolCalls = append(asst.ToolCalls, tcp)
		}
		if len(m.ReasoningDetails) > 0 {
			asst.SetExtraFields(map[string]any{
				"reasoning_details": m.ReasoningDetails,
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case types.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

// toolCallAccumulator assembles streamed tool-call fragments, keyed by the
// index the API assigns each call.
type toolCallAccumulator struct {
	calls map[int]*types.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: map[int]*types.ToolCall{}}
}

func (a *toolCallAccumulator) add(tc oai.ChatCompletionChunkChoiceDeltaToolCall) {
	idx := int(tc.Index)
	existing, ok := a.calls[idx]
	if !ok {
		existing = &types.ToolCall{}
		a.calls[idx] = existing
	}
	if tc.ID != "" {
		existing.ID = tc.ID
	}
	if tc.Function.Name != "" {
		existing.Name = tc.Function.Name
	}
	existing.Arguments += tc.Function.Arguments
	if f, ok := tc.JSON.ExtraFields["thought_signature"]; ok {
		var sig string
		if json.Unmarshal([]byte(f.Raw()), &sig) == nil && sig != "" {
			existing.ThoughtSignature = sig
		}
	}
}

func (a *toolCallAccumulator) result() []types.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]types.ToolCall, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, *a.calls[i])
	}
	return out
}

// reasoningAccumulator merges streamed reasoning_details fragments. Fragments
// sharing an index belong to the same detail: text and data concatenate,
// identity fields take the latest non-empty value. Fragments without an index
// are kept in arrival order after the indexed ones.
type reasoningAccumulator struct {
	indexed   map[int]*types.ReasoningDetail
	unindexed []types.ReasoningDetail
}

func newReasoningAccumulator() *reasoningAccumulator {
	return &reasoningAccumulator{indexed: map[int]*types.ReasoningDetail{}}
}

func (a *reasoningAccumulator) add(raw []byte) {
	var fragments []types.ReasoningDetail
	if err := json.Unmarshal(raw, &fragments); err != nil {
		slog.Warn("openai: unparseable reasoning_details delta", "err", err)
		return
	}
	for _, frag := range fragments {
		if frag.Index == nil {
			a.unindexed = append(a.unindexed, frag)
			continue
		}
		idx := *frag.Index
		existing, ok := a.indexed[idx]
		if !ok {
			f := frag
			// Merged details are re-serialised from the typed fields, so the
			// per-fragment raw bytes no longer apply.
			f.Raw = nil
			a.indexed[idx] = &f
			continue
		}
		existing.Text += frag.Text
		existing.Data += frag.Data
		existing.Summary += frag.Summary
		if frag.Type != "" {
			existing.Type = frag.Type
		}
		if frag.ID != "" {
			existing.ID = frag.ID
		}
		if frag.Format != "" {
			existing.Format = frag.Format
		}
		if frag.Signature != "" {
			existing.Signature = frag.Signature
		}
	}
}

func (a *reasoningAccumulator) result() []types.ReasoningDetail {
	if len(a.indexed) == 0 && len(a.unindexed) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(a.indexed))
	for i := range a.indexed {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]types.ReasoningDetail, 0, len(idxs)+len(a.unindexed))
	for _, i := range idxs {
		out = append(out, *a.indexed[i])
	}
	out = append(out, a.unindexed...)
	return out
}
