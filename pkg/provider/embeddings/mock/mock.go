// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned embedding vectors without a live model
// and to verify that the correct texts are submitted for embedding.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-embed-v1",
//	}
//	vec, _ := p.Embed(ctx, "the rain in lumenport")
package mock

import (
	"context"
	"sync"

	"github.com/verdandi-labs/reverie/pkg/provider/embeddings"
)

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a configurable test double for [embeddings.Provider].
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed for every input. When EmbedFunc is
	// set it takes precedence and may vary the vector per text.
	EmbedResult []float32
	EmbedFunc   func(text string) []float32
	EmbedErr    error

	// EmbedBatchResult is returned by EmbedBatch. If nil, each text is
	// embedded via the single-text path so EmbedFunc applies per element.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	embedTexts [][]string
}

// Embed records the call and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedTexts = append(p.embedTexts, []string{text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vectorFor(text), nil
}

// EmbedBatch records the call and returns one vector per input text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.embedTexts = append(p.embedTexts, cp)
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = p.vectorFor(t)
	}
	return result, nil
}

// vectorFor resolves the configured vector for a text. Callers hold p.mu.
func (p *Provider) vectorFor(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	if p.EmbedResult == nil {
		return []float32{}
	}
	out := make([]float32, len(p.EmbedResult))
	copy(out, p.EmbedResult)
	return out
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// EmbedTexts returns every text submitted so far, one slice per call (single
// Embed calls appear as one-element slices), in call order.
func (p *Provider) EmbedTexts() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.embedTexts))
	copy(out, p.embedTexts)
	return out
}

// CallCount returns the total number of Embed and EmbedBatch calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.embedTexts)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedTexts = nil
}
