// Package mock provides a test double for the embeddings.Provider interface.
//
// Vectors are looked up per text in [Provider.Vectors], falling back to
// [Provider.EmbedResult], so a test can make "the king died" and "death of
// the ruler" land close together without a live model:
//
//	p := &mock.Provider{
//	    DimensionsValue: 768,
//	    Vectors: map[string][]float32{"the king died": kingVec},
//	}
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider. It is safe for
// concurrent use.
type Provider struct {
	mu sync.Mutex

	// Vectors maps an input text to the vector returned for it.
	Vectors map[string][]float32

	// EmbedResult is returned for texts missing from Vectors. When it is nil
	// too, Embed fails so that tests notice unexpected inputs.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Defaults to "mock-embed".
	ModelIDValue string

	// EmbedCalls records the text of every embedded input in order. Batch
	// inputs are recorded individually.
	EmbedCalls []string

	// BatchCalls counts EmbedBatch invocations.
	BatchCalls int
}

// Embed records the call and returns the configured vector for text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	return p.lookup(text)
}

// EmbedBatch records the call and embeds each text as Embed would. Any
// failure fails the whole batch.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BatchCalls++
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.lookup(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) lookup(text string) ([]float32, error) {
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if vec, ok := p.Vectors[text]; ok {
		return vec, nil
	}
	if p.EmbedResult != nil {
		return p.EmbedResult, nil
	}
	return nil, fmt.Errorf("mock embeddings: no vector configured for %q", text)
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue, or "mock-embed" when unset.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue == "" {
		return "mock-embed"
	}
	return p.ModelIDValue
}

// Calls returns a copy of the recorded inputs.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.EmbedCalls))
	copy(out, p.EmbedCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.BatchCalls = 0
}
