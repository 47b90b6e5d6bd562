package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// EmbeddingsFallback is an [embeddings.Provider] that fails over between
// backends. Every backend must produce vectors of the same length, since
// vectors from the fallback land in the same index as the primary's.
type EmbeddingsFallback struct {
	group *Group[embeddings.Provider]
}

// NewEmbeddingsFallback wraps primary. Add backends with [EmbeddingsFallback.Add].
func NewEmbeddingsFallback(primaryName string, primary embeddings.Provider, cfg BreakerConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewGroup(primaryName, primary, cfg)}
}

// Add registers a fallback backend. It fails with
// [embeddings.ErrDimensionMismatch] when p's vectors differ in length from
// the primary's.
func (f *EmbeddingsFallback) Add(name string, p embeddings.Provider) error {
	if err := embeddings.Verify(p, f.Dimensions()); err != nil {
		return fmt.Errorf("resilience: fallback %q: %w", name, err)
	}
	f.group.Add(name, p)
	return nil
}

// Backends returns the backend names in try order.
func (f *EmbeddingsFallback) Backends() []string { return f.group.Names() }

// Embed embeds text with the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return Call(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch embeds all texts with a single backend. A batch is never split
// across backends.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return Call(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector length, shared by all backends.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }
