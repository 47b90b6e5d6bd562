package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Backfill batch sizes.
const (
	DefaultBackfillBatch = 20
	MaxBackfillBatch     = 50
)

// ErrNoEmbedder is returned by BackfillEmbeddings without a provider.
var ErrNoEmbedder = errors.New("world: no embeddings provider")

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BackfillOptions tunes BackfillEmbeddings.
type BackfillOptions struct {
	// All re-embeds locations that already carry a vector, e.g. after
	// switching embedding models.
	All bool

	// BatchSize is the number of texts per provider call. Zero selects
	// [DefaultBackfillBatch]; values are clamped to [1, MaxBackfillBatch].
	BatchSize int

	// DryRun computes embeddings without writing them.
	DryRun bool
}

// BackfillReport summarises a BackfillEmbeddings run.
type BackfillReport struct {
	Processed int // locations embedded
	Updated   int // locations written; zero on a dry run
	Skipped   int // already embedded and All unset
	Batches   int
	DryRun    bool
}

// LocationText is the text a location is embedded from: one "Label: value"
// line per non-empty attribute among name, type, environment and
// description.
func LocationText(loc docstore.Location) string {
	var lines []string
	for _, f := range [...]struct{ label, value string }{
		{"Name", loc.Name},
		{"Type", loc.Type},
		{"Environment", loc.Environment},
		{"Description", loc.Description},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			lines = append(lines, f.label+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// BackfillEmbeddings embeds the locations of campaignID that have no vector,
// or every location when opts.All is set, in batches. Each location is
// written as soon as its batch returns, so a failed run can be repeated and
// resumes with the locations still missing a vector. Locations deleted while
// the run is in flight are skipped.
func (s *Service) BackfillEmbeddings(ctx context.Context, campaignID string, e Embedder, opts BackfillOptions) (_ *BackfillReport, err error) {
	ctx, span := observe.StartSpan(ctx, "world.BackfillEmbeddings")
	defer func() { observe.EndSpan(span, err) }()

	report := &BackfillReport{DryRun: opts.DryRun}
	if e == nil {
		return report, ErrNoEmbedder
	}
	if err := s.authorize(ctx, campaignID, ActionAuthor); err != nil {
		return report, err
	}
	size := opts.BatchSize
	if size == 0 {
		size = DefaultBackfillBatch
	}
	size = min(max(size, 1), MaxBackfillBatch)

	locs, err := docstore.CampaignLocations(ctx, s.store, campaignID)
	if err != nil {
		return report, fmt.Errorf("world: backfill %s: %w", campaignID, err)
	}
	pending := make([]*docstore.Location, 0, len(locs))
	for _, loc := range locs {
		if !opts.All && len(loc.Embedding) > 0 {
			report.Skipped++
			continue
		}
		pending = append(pending, loc)
	}

	log := observe.Logger(ctx)
	for batch := range slices.Chunk(pending, size) {
		texts := make([]string, len(batch))
		for i, loc := range batch {
			texts[i] = LocationText(*loc)
		}
		vecs, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return report, fmt.Errorf("world: backfill %s: embed: %w", campaignID, err)
		}
		if len(vecs) != len(batch) {
			return report, fmt.Errorf("world: backfill %s: got %d vectors for %d locations", campaignID, len(vecs), len(batch))
		}
		for i, loc := range batch {
			if err := docstore.CheckDimensions(vecs[i], docstore.EmbeddingDimensions); err != nil {
				return report, fmt.Errorf("world: backfill %s: %w", loc.ID, err)
			}
			report.Processed++
			if opts.DryRun {
				continue
			}
			err := s.store.Patch(ctx, loc.ID, docstore.LocationPatch{Embedding: &vecs[i]})
			if errors.Is(err, docstore.ErrNotFound) {
				log.Debug("world: backfill skipped deleted location", "location_id", loc.ID)
				continue
			}
			if err != nil {
				return report, fmt.Errorf("world: backfill %s: %w", loc.ID, err)
			}
			report.Updated++
		}
		report.Batches++
	}

	log.Info("world: embeddings backfilled",
		"campaign_id", campaignID,
		"processed", report.Processed,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"dry_run", report.DryRun)
	return report, nil
}
