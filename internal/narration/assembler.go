// Package narration assembles the retrieval context handed to the narrator
// before it improvises the next beat of the story.
//
// Two lookups run concurrently for every request:
//
//  1. The campaign's most relevant memories, via [memory.Searcher].
//  2. The campaign's nearest location by embedding, via the document store's
//     vector index.
//
// Use [Format] to render a [Context] as the plain-text block the narrator
// prompt expects.
package narration

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/memory"
)

const (
	// DefaultMemoryLimit is the number of memories included per request.
	DefaultMemoryLimit = 3

	// DefaultLocationLimit is the number of nearest locations included.
	DefaultLocationLimit = 1
)

// Context is the assembled retrieval context for one narrator turn.
// Both slices are non-nil but may be empty.
type Context struct {
	CampaignID string

	// Memories are ranked by the retrieval engine's order.
	Memories []memory.Result

	// Locations are ranked by descending similarity.
	Locations []ScoredLocation

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// ScoredLocation is a location hit with its cosine similarity.
type ScoredLocation struct {
	Location docstore.Location
	Score    float64
}

// Empty reports whether nothing relevant was found.
func (c *Context) Empty() bool {
	return c == nil || (len(c.Memories) == 0 && len(c.Locations) == 0)
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithMemoryLimit sets how many memories are retrieved. Defaults to
// [DefaultMemoryLimit]. Zero disables memory retrieval.
func WithMemoryLimit(n int) Option {
	return func(a *Assembler) { a.memoryLimit = max(n, 0) }
}

// WithLocationLimit sets how many nearest locations are retrieved. Defaults
// to [DefaultLocationLimit]. Zero disables the location lookup.
func WithLocationLimit(n int) Option {
	return func(a *Assembler) { a.locationLimit = max(n, 0) }
}

// Assembler concurrently fetches memories and locations and combines them
// into a [Context].
type Assembler struct {
	memories      memory.Searcher
	docs          docstore.Store
	memoryLimit   int
	locationLimit int
}

// NewAssembler creates an [Assembler] reading memories through searcher and
// locations from docs.
func NewAssembler(searcher memory.Searcher, docs docstore.Store, opts ...Option) *Assembler {
	a := &Assembler{
		memories:      searcher,
		docs:          docs,
		memoryLimit:   DefaultMemoryLimit,
		locationLimit: DefaultLocationLimit,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble retrieves the context relevant to embedding within campaignID.
//
// The embedding is validated once up front so both lookups fail the same way
// ([memory.ErrInvalidVector]). If either lookup fails, assembly is aborted and
// the error is returned.
func (a *Assembler) Assemble(ctx context.Context, campaignID string, embedding []float32) (_ *Context, err error) {
	ctx, span := observe.StartSpan(ctx, "narration.Assemble")
	defer func() { observe.EndSpan(span, err) }()

	if err := docstore.CheckDimensions(embedding, memory.Dimensions); err != nil {
		return nil, fmt.Errorf("narration: %w: %w", memory.ErrInvalidVector, err)
	}

	start := time.Now()
	out := &Context{
		CampaignID: campaignID,
		Memories:   []memory.Result{},
		Locations:  []ScoredLocation{},
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if a.memoryLimit > 0 {
		eg.Go(func() error {
			results, err := a.memories.Retrieve(egCtx, campaignID, embedding, a.memoryLimit)
			if err != nil {
				return fmt.Errorf("narration: retrieve memories: %w", err)
			}
			out.Memories = results
			return nil
		})
	}

	if a.locationLimit > 0 {
		eg.Go(func() error {
			locs, err := a.nearestLocations(egCtx, campaignID, embedding)
			if err != nil {
				return fmt.Errorf("narration: nearest locations: %w", err)
			}
			out.Locations = locs
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out.AssemblyDuration = time.Since(start)
	return out, nil
}

func (a *Assembler) nearestLocations(ctx context.Context, campaignID string, embedding []float32) ([]ScoredLocation, error) {
	hits, err := a.docs.VectorSearch(ctx, docstore.CollectionLocations, embedding, a.locationLimit,
		docstore.Filter{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredLocation, 0, len(hits))
	for _, h := range hits {
		loc, ok := h.Document.(*docstore.Location)
		if !ok || loc.CampaignID != campaignID {
			continue
		}
		out = append(out, ScoredLocation{Location: *loc, Score: h.Score})
	}
	return out, nil
}
