package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/realmkeeper/internal/resilience"
	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
	embmock "github.com/MrWong99/realmkeeper/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback(t *testing.T) {
	t.Parallel()

	primary := &embmock.Provider{DimensionsValue: 3, ModelIDValue: "primary-model", EmbedErr: errors.New("rate limited")}
	backup := &embmock.Provider{DimensionsValue: 3, EmbedResult: []float32{1, 0, 0}}

	f := resilience.NewEmbeddingsFallback("openai", primary, resilience.BreakerConfig{MaxFailures: 2})
	if err := f.Add("ollama", backup); err != nil {
		t.Fatalf("Add: %v", err)
	}

	vec, err := f.Embed(context.Background(), "the king died")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("Embed = %v, want the backup vector", vec)
	}

	batch, err := f.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil || len(batch) != 2 {
		t.Fatalf("EmbedBatch = %v, %v", batch, err)
	}
	if backup.BatchCalls != 1 {
		t.Errorf("backup batch calls = %d, want 1", backup.BatchCalls)
	}

	if f.Dimensions() != 3 || f.ModelID() != "primary-model" {
		t.Errorf("Dimensions/ModelID = %d/%q, want the primary's", f.Dimensions(), f.ModelID())
	}
	if got := f.Backends(); len(got) != 2 || got[1] != "ollama" {
		t.Errorf("Backends() = %v", got)
	}
}

func TestEmbeddingsFallback_DimensionMismatch(t *testing.T) {
	t.Parallel()

	f := resilience.NewEmbeddingsFallback("openai", &embmock.Provider{DimensionsValue: 768}, resilience.BreakerConfig{})
	err := f.Add("small", &embmock.Provider{DimensionsValue: 384})
	if !errors.Is(err, embeddings.ErrDimensionMismatch) {
		t.Fatalf("Add = %v, want ErrDimensionMismatch", err)
	}
	if len(f.Backends()) != 1 {
		t.Errorf("mismatched backend was registered: %v", f.Backends())
	}
}

func TestEmbeddingsFallback_AllFailed(t *testing.T) {
	t.Parallel()

	down := errors.New("down")
	f := resilience.NewEmbeddingsFallback("a", &embmock.Provider{DimensionsValue: 3, EmbedErr: down}, resilience.BreakerConfig{})
	_ = f.Add("b", &embmock.Provider{DimensionsValue: 3, EmbedErr: down})

	_, err := f.Embed(context.Background(), "x")
	if !errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, down) {
		t.Fatalf("Embed = %v, want ErrAllFailed wrapping the backend error", err)
	}
}
