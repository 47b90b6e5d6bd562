package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/realmkeeper/internal/narration"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/pkg/memory"
)

const (
	defaultRecallK = 5
	maxRecallK     = 50
)

// RememberInput is the input of the remember tool.
type RememberInput struct {
	CampaignID string   `json:"campaign_id"`
	Content    string   `json:"content" jsonschema:"the fact or event to remember"`
	Type       string   `json:"type,omitempty" jsonschema:"summary, fact, event, character or conversation_chunk; defaults to fact"`
	Importance *float64 `json:"importance,omitempty" jsonschema:"1 (trivial) to 10 (campaign-defining)"`
	RelatedID  string   `json:"related_id,omitempty" jsonschema:"id of the NPC, location or quest this memory is about"`
}

// RememberOutput is the output of the remember tool.
type RememberOutput struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at" jsonschema:"RFC 3339 timestamp"`
}

// RecallInput is the input of the recall tool.
type RecallInput struct {
	CampaignID string `json:"campaign_id"`
	Query      string `json:"query" jsonschema:"what to look for, in natural language"`
	K          int    `json:"k,omitempty" jsonschema:"maximum number of memories; defaults to 5 and is capped at 50"`
	Type       string `json:"type,omitempty" jsonschema:"restrict to one memory type"`
}

// MemoryView is one recalled memory.
type MemoryView struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Importance *float64 `json:"importance,omitempty"`
	Score      float64  `json:"score"`
}

// RecallOutput is the output of the recall tool.
type RecallOutput struct {
	Memories []MemoryView `json:"memories"`
}

// NarrationContextInput is the input of the narration_context tool.
type NarrationContextInput struct {
	CampaignID string `json:"campaign_id"`
	Query      string `json:"query" jsonschema:"the player's latest action or question"`
}

// NarrationContextOutput is the output of the narration_context tool.
type NarrationContextOutput struct {
	// Context is the formatted block ready for the narrator prompt; empty
	// when nothing relevant was found.
	Context   string `json:"context"`
	Memories  int    `json:"memories"`
	Locations int    `json:"locations"`
}

// BackfillEmbeddingsInput is the input of the backfill_embeddings tool.
type BackfillEmbeddingsInput struct {
	CampaignID string `json:"campaign_id"`
	All        bool   `json:"all,omitempty" jsonschema:"re-embed locations that already have a vector, e.g. after switching models"`
	BatchSize  int    `json:"batch_size,omitempty" jsonschema:"texts per provider call; defaults to 20, at most 50"`
	DryRun     bool   `json:"dry_run,omitempty" jsonschema:"compute embeddings without writing them"`
}

// BackfillEmbeddingsOutput is the output of the backfill_embeddings tool.
type BackfillEmbeddingsOutput struct {
	Processed int  `json:"processed"`
	Updated   int  `json:"updated"`
	Skipped   int  `json:"skipped"`
	DryRun    bool `json:"dry_run"`
}

func (s *Server) registerMemoryTools() {
	addTool(s, &mcp.Tool{
		Name:        "remember",
		Description: "Store a narrative fact in the campaign's long-term memory.",
	}, s.remember)
	addTool(s, &mcp.Tool{
		Name:        "recall",
		Description: "Find the campaign memories most relevant to a query.",
	}, s.recall)
	addTool(s, &mcp.Tool{
		Name:        "narration_context",
		Description: "Assemble the memories and nearest location relevant to the player's action as a context block.",
	}, s.narrationContext)
	addTool(s, &mcp.Tool{
		Name:        "backfill_embeddings",
		Description: "Embed the campaign's locations that have no vector yet, or all of them, so they show up in narration context.",
	}, s.backfillEmbeddings)
}

func (s *Server) backfillEmbeddings(ctx context.Context, in BackfillEmbeddingsInput) (BackfillEmbeddingsOutput, error) {
	report, err := s.deps.World.BackfillEmbeddings(ctx, in.CampaignID, s.deps.Embedder, world.BackfillOptions{
		All:       in.All,
		BatchSize: in.BatchSize,
		DryRun:    in.DryRun,
	})
	if err != nil {
		return BackfillEmbeddingsOutput{}, err
	}
	return BackfillEmbeddingsOutput{
		Processed: report.Processed,
		Updated:   report.Updated,
		Skipped:   report.Skipped,
		DryRun:    report.DryRun,
	}, nil
}

func (s *Server) remember(ctx context.Context, in RememberInput) (RememberOutput, error) {
	vec, err := s.embed(ctx, in.Content)
	if err != nil {
		return RememberOutput{}, err
	}
	memType := in.Type
	if memType == "" {
		memType = memory.TypeFact
	}
	m, err := s.deps.Memories.Save(ctx, memory.NewMemory{
		CampaignID: in.CampaignID,
		Content:    in.Content,
		Type:       memType,
		Embedding:  vec,
		Importance: in.Importance,
		RelatedID:  in.RelatedID,
	})
	if err != nil {
		return RememberOutput{}, err
	}
	return RememberOutput{ID: m.ID, CreatedAt: m.CreatedAt.Format(time.RFC3339Nano)}, nil
}

func (s *Server) recall(ctx context.Context, in RecallInput) (RecallOutput, error) {
	vec, err := s.embed(ctx, in.Query)
	if err != nil {
		return RecallOutput{}, err
	}
	k := in.K
	if k <= 0 {
		k = defaultRecallK
	}
	k = min(k, maxRecallK)
	var opts []memory.RetrieveOpt
	if in.Type != "" {
		opts = append(opts, memory.WithType(in.Type))
	}
	results, err := s.deps.Searcher.Retrieve(ctx, in.CampaignID, vec, k, opts...)
	if err != nil {
		return RecallOutput{}, err
	}
	out := RecallOutput{Memories: make([]MemoryView, len(results))}
	for i, r := range results {
		out.Memories[i] = MemoryView{
			ID:         r.Memory.ID,
			Content:    r.Memory.Content,
			Type:       r.Memory.Type,
			Importance: r.Memory.Importance,
			Score:      r.Score,
		}
	}
	return out, nil
}

func (s *Server) narrationContext(ctx context.Context, in NarrationContextInput) (NarrationContextOutput, error) {
	vec, err := s.embed(ctx, in.Query)
	if err != nil {
		return NarrationContextOutput{}, err
	}
	c, err := s.deps.Narration.Assemble(ctx, in.CampaignID, vec)
	if err != nil {
		return NarrationContextOutput{}, err
	}
	return NarrationContextOutput{
		Context:   narration.Format(c),
		Memories:  len(c.Memories),
		Locations: len(c.Locations),
	}, nil
}
