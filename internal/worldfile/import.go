package worldfile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/memory"
	"github.com/MrWong99/realmkeeper/pkg/provider/embeddings"
)

// ErrNoEmbedder is returned when a file seeds memories but the importer has
// no embeddings provider.
var ErrNoEmbedder = errors.New("worldfile: memories require an embeddings provider")

// Report summarises a completed import.
type Report struct {
	// LocationIDs maps each location name as written in the file to its
	// generated id.
	LocationIDs map[string]string

	// Edges counts distinct connections; an edge listed by both endpoints
	// counts once.
	Edges    int
	Shops    int
	Memories int
}

// Option configures an [Importer].
type Option func(*Importer)

// WithEmbedder embeds location texts and seeded memories with p.
func WithEmbedder(p embeddings.Provider) Option {
	return func(im *Importer) { im.embedder = p }
}

// WithMemorySaver sets where seeded memories are written.
func WithMemorySaver(s memory.Saver) Option {
	return func(im *Importer) { im.saver = s }
}

// Importer writes a [File] into a campaign world.
type Importer struct {
	world    *world.Service
	embedder embeddings.Provider
	saver    memory.Saver
}

// NewImporter creates an Importer that adds locations through svc.
func NewImporter(svc *world.Service, opts ...Option) *Importer {
	im := &Importer{world: svc}
	for _, o := range opts {
		o(im)
	}
	return im
}

// Import creates every location, connects declared neighbors, pins
// positions and icons, inserts shops and seeds memories, in that order.
//
// The import is best-effort: the first failure aborts it and the returned
// report describes what was written so far.
func (im *Importer) Import(ctx context.Context, wf *File) (_ *Report, err error) {
	ctx, span := observe.StartSpan(ctx, "worldfile.Import")
	defer func() { observe.EndSpan(span, err) }()

	report := &Report{LocationIDs: make(map[string]string, len(wf.Locations))}
	if err := Validate(wf); err != nil {
		return report, err
	}
	if len(wf.Memories) > 0 && (im.embedder == nil || im.saver == nil) {
		return report, ErrNoEmbedder
	}

	vectors, err := im.locationVectors(ctx, wf.Locations)
	if err != nil {
		return report, err
	}

	ids := make(map[string]string, len(wf.Locations))
	for i, def := range wf.Locations {
		id, err := im.world.AddLocation(ctx, docstore.Location{
			CampaignID:  wf.Campaign,
			Name:        strings.TrimSpace(def.Name),
			Type:        def.Type,
			Description: def.Description,
			Environment: def.Environment,
			Embedding:   vectors[i],
		})
		if err != nil {
			return report, fmt.Errorf("worldfile: add location %q: %w", def.Name, err)
		}
		ids[nameKey(def.Name)] = id
		report.LocationIDs[def.Name] = id
	}

	type edge struct{ a, b string }
	seen := make(map[edge]struct{})
	for _, def := range wf.Locations {
		from := ids[nameKey(def.Name)]
		for _, n := range def.Neighbors {
			to := ids[nameKey(n)]
			e := edge{min(from, to), max(from, to)}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			if err := im.world.Connect(ctx, from, to); err != nil {
				return report, fmt.Errorf("worldfile: connect %q and %q: %w", def.Name, n, err)
			}
			report.Edges++
		}
		if def.Position != nil {
			if err := im.world.SetPosition(ctx, from, def.Position.X, def.Position.Y); err != nil {
				return report, fmt.Errorf("worldfile: position %q: %w", def.Name, err)
			}
		}
		if def.Icon != "" {
			if err := im.world.SetIcon(ctx, from, def.Icon); err != nil {
				return report, fmt.Errorf("worldfile: icon %q: %w", def.Name, err)
			}
		}
		for _, shop := range def.Shops {
			if _, err := im.world.Store().Insert(ctx, &docstore.Shop{
				CampaignID: wf.Campaign,
				LocationID: from,
				Name:       strings.TrimSpace(shop),
			}); err != nil {
				return report, fmt.Errorf("worldfile: add shop %q: %w", shop, err)
			}
			report.Shops++
		}
	}

	if err := im.seedMemories(ctx, wf, report); err != nil {
		return report, err
	}

	observe.Logger(ctx).Info("worldfile: imported",
		"campaign_id", wf.Campaign,
		"locations", len(report.LocationIDs),
		"edges", report.Edges,
		"shops", report.Shops,
		"memories", report.Memories)
	return report, nil
}

// locationVectors embeds every location in one batch.
// Without an embedder every vector is nil and locations are stored unindexed.
func (im *Importer) locationVectors(ctx context.Context, defs []LocationDef) ([][]float32, error) {
	if im.embedder == nil || len(defs) == 0 {
		return make([][]float32, len(defs)), nil
	}
	texts := make([]string, len(defs))
	for i, def := range defs {
		texts[i] = locationText(def)
	}
	vecs, err := im.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("worldfile: embed locations: %w", err)
	}
	if len(vecs) != len(defs) {
		return nil, fmt.Errorf("worldfile: embed locations: got %d vectors for %d locations", len(vecs), len(defs))
	}
	return vecs, nil
}

func (im *Importer) seedMemories(ctx context.Context, wf *File, report *Report) error {
	if len(wf.Memories) == 0 {
		return nil
	}
	texts := make([]string, len(wf.Memories))
	for i, m := range wf.Memories {
		texts[i] = m.Content
	}
	vecs, err := im.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("worldfile: embed memories: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("worldfile: embed memories: got %d vectors for %d memories", len(vecs), len(texts))
	}
	for i, m := range wf.Memories {
		memType := m.Type
		if memType == "" {
			memType = memory.TypeFact
		}
		if _, err := im.saver.Save(ctx, memory.NewMemory{
			CampaignID: wf.Campaign,
			Content:    m.Content,
			Type:       memType,
			Embedding:  vecs[i],
			Importance: m.Importance,
		}); err != nil {
			return fmt.Errorf("worldfile: seed memory %d: %w", i, err)
		}
		report.Memories++
	}
	return nil
}

func locationText(def LocationDef) string {
	return world.LocationText(docstore.Location{
		Name:        def.Name,
		Type:        def.Type,
		Environment: def.Environment,
		Description: def.Description,
	})
}
