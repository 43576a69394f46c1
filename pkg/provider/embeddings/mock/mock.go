// Package mock provides a deterministic test double for embeddings.Provider.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/edda-voice/edda/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock embeddings.Provider. By default it derives a
// deterministic pseudo-vector from each input text, so identical texts embed
// identically and tests need no fixtures. Set Vectors to pin exact outputs.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length. Defaults to 8 when zero.
	Dims int

	// Vectors, when non-nil, maps exact input text to its embedding.
	// Texts not present fall back to the derived pseudo-vector.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// EmbedCalls counts single-text Embed invocations.
	EmbedCalls int

	// BatchCalls records the texts of every EmbedBatch invocation.
	BatchCalls [][]string
}

func (p *Provider) dims() int {
	if p.Dims == 0 {
		return 8
	}
	return p.Dims
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls++
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BatchCalls = append(p.BatchCalls, append([]string(nil), texts...))
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dims()
}

func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	// A cheap xorshift keeps the vector deterministic per input.
	vec := make([]float32, p.dims())
	for i := range vec {
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		vec[i] = float32(seed%2000)/1000.0 - 1.0
	}
	return vec
}
