// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// Realmkeeper never embeds text inside the core: memories and locations are
// stored with vectors the caller already computed. Providers live on the
// outer tool surface, turning narrator text into the fixed-length vectors the
// memory and location indexes expect.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned by [Verify] when a provider's vectors do
// not match the length the store was created with.
var ErrDimensionMismatch = errors.New("embeddings: dimension mismatch")

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the same length, reported by
// Dimensions. Vectors from different models must never be mixed in one index.
type Provider interface {
	// Embed computes the embedding vector for a single text. The text is
	// passed through verbatim; model-specific prefixes are the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one provider call. The i-th result
	// corresponds to texts[i]. On error the whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}

// Verify checks that p produces vectors of length want. It is meant to run
// once at startup so a misconfigured model fails fast instead of on the first
// rejected save.
func Verify(p Provider, want int) error {
	if got := p.Dimensions(); got != want {
		return fmt.Errorf("%w: model %q produces %d dimensions, store expects %d",
			ErrDimensionMismatch, p.ModelID(), got, want)
	}
	return nil
}
