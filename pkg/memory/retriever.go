package memory

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// ScoreEpsilon is the tolerance within which two similarity scores count as
// equal for tie-breaking.
const ScoreEpsilon = 1e-6

// DefaultOverfetch is how many candidates beyond k are requested from the
// index so that ties at the cut-off can be broken correctly.
const DefaultOverfetch = 10

// MaxK is the largest number of results a single Retrieve returns; larger
// requests are clamped.
const MaxK = 1000

// maxSearchLimit bounds how far Retrieve widens the index query while the
// last candidate still ties the k-th score.
const maxSearchLimit = 1 << 14

var _ Searcher = (*Retriever)(nil)

// RetrieverOption configures a [Retriever].
type RetrieverOption func(*Retriever)

// WithOverfetch sets the number of extra candidates fetched beyond k.
// Negative values are ignored.
func WithOverfetch(n int) RetrieverOption {
	return func(r *Retriever) {
		if n >= 0 {
			r.overfetch = min(n, maxSearchLimit)
		}
	}
}

// WithRetrieverMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithRetrieverMetrics(m *observe.Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// Retriever answers top-k similarity queries over one campaign's memories.
// It is read-only over the store.
type Retriever struct {
	docs      docstore.Store
	overfetch int
	metrics   *observe.Metrics
}

// NewRetriever creates a Retriever reading from docs.
func NewRetriever(docs docstore.Store, opts ...RetrieverOption) *Retriever {
	r := &Retriever{docs: docs, overfetch: DefaultOverfetch}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Retrieve returns up to k memories of campaignID ordered by descending
// similarity to embedding. Scores equal within [ScoreEpsilon] are ordered by
// importance (unset ranks lowest), then by newer CreatedAt, then by id.
//
// The index is asked for k plus the overfetch. While a full page still ends
// in a score tied with the k-th hit, the query is repeated with a doubled
// limit so that a tied memory stored later is not cut off before the
// tie-break runs.
//
// k <= 0 yields an empty result and k above [MaxK] is clamped. An embedding
// of the wrong length fails with [ErrInvalidVector].
func (r *Retriever) Retrieve(ctx context.Context, campaignID string, embedding []float32, k int, opts ...RetrieveOpt) (_ []Result, err error) {
	ctx, span := observe.StartSpan(ctx, "memory.Retrieve")
	defer func() { observe.EndSpan(span, err) }()

	if err := docstore.CheckDimensions(embedding, Dimensions); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVector, err)
	}
	if k <= 0 {
		return []Result{}, nil
	}
	k = min(k, MaxK)
	params := ApplyRetrieveOpts(opts)
	filter := docstore.Filter{CampaignID: campaignID, Type: params.Type}

	start := time.Now()
	hits, err := r.search(ctx, embedding, k, filter)
	r.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("memory: retrieve: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		m, ok := h.Document.(*docstore.Memory)
		if !ok {
			continue
		}
		// The index already filters by campaign; a stray hit here means the
		// backend ignored the filter and must not leak into the result.
		if m.CampaignID != campaignID {
			observe.Logger(ctx).Warn("memory: dropped cross-campaign retrieval hit",
				"campaign_id", campaignID, "memory_id", m.ID)
			continue
		}
		results = append(results, Result{Memory: *m, Score: h.Score})
	}

	slices.SortStableFunc(results, compareResults)
	if len(results) > k {
		results = results[:k]
	}
	r.metrics.RetrievalResults.Record(ctx, int64(len(results)))
	return results, nil
}

// search queries the index, widening the limit while the page is full and
// its last hit ties the k-th one.
func (r *Retriever) search(ctx context.Context, embedding []float32, k int, filter docstore.Filter) ([]docstore.ScoredDocument, error) {
	limit := min(k+r.overfetch, maxSearchLimit)
	for {
		hits, err := r.docs.VectorSearch(ctx, docstore.CollectionMemories, embedding, limit, filter)
		if err != nil {
			return nil, err
		}
		if len(hits) < limit || limit >= maxSearchLimit || !tiedAtCutoff(hits, k) {
			return hits, nil
		}
		observe.Logger(ctx).Debug("memory: widening retrieval for tied scores",
			"campaign_id", filter.CampaignID, "limit", limit)
		limit = min(limit*2, maxSearchLimit)
	}
}

// tiedAtCutoff reports whether the last of hits, which arrive in descending
// score order, scores within [ScoreEpsilon] of the k-th.
func tiedAtCutoff(hits []docstore.ScoredDocument, k int) bool {
	if k <= 0 || len(hits) < k {
		return false
	}
	return hits[k-1].Score-hits[len(hits)-1].Score <= ScoreEpsilon
}

// compareResults orders a before b when a ranks higher.
func compareResults(a, b Result) int {
	if math.Abs(a.Score-b.Score) > ScoreEpsilon {
		return cmp.Compare(b.Score, a.Score)
	}
	if c := compareImportance(a.Memory.Importance, b.Memory.Importance); c != 0 {
		return c
	}
	if c := b.Memory.CreatedAt.Compare(a.Memory.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Memory.ID, b.Memory.ID)
}

// compareImportance sorts higher importance first; nil sorts last.
func compareImportance(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*b, *a)
}
