// Package memory is the campaign-scoped semantic memory of Realmkeeper.
//
// A memory is an append-only narrative fact (a summary, an event, a
// character note, a chunk of conversation) stored together with a
// fixed-dimension embedding. [Store] validates and writes memories;
// [Retriever] finds the ones most relevant to a query vector within a single
// campaign.
//
// Retrieval ranks by cosine similarity. Importance and recency only break
// ties between results whose similarity is equal within [ScoreEpsilon]; they
// never promote a weaker match over a stronger one.
//
// Both types are safe for concurrent use.
package memory

import (
	"context"
	"errors"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Dimensions is the required embedding length.
const Dimensions = docstore.EmbeddingDimensions

// Importance bounds.
const (
	MinImportance = 1.0
	MaxImportance = 10.0
)

// Well-known memory types. Any other non-empty tag is accepted as well.
const (
	TypeSummary           = "summary"
	TypeFact              = "fact"
	TypeEvent             = "event"
	TypeCharacter         = "character"
	TypeConversationChunk = "conversation_chunk"
)

var (
	// ErrInvalidVector is returned when an embedding does not have exactly
	// [Dimensions] components.
	ErrInvalidVector = errors.New("memory: invalid embedding vector")

	// ErrInvalidImportance is returned for importance values outside
	// [MinImportance, MaxImportance].
	ErrInvalidImportance = errors.New("memory: importance out of range")

	// ErrInvalidMemory is returned for a missing campaign or empty content.
	ErrInvalidMemory = errors.New("memory: invalid memory")
)

// NewMemory is the input of [Store.Save].
type NewMemory struct {
	CampaignID string
	Content    string
	Type       string
	Embedding  []float32

	// Importance is optional. When set it must lie in [1, 10].
	Importance *float64

	// RelatedID is a weak reference to a quest, NPC or location. It is
	// stored as given and never resolved.
	RelatedID string

	Metadata map[string]any
}

// Result is one retrieved memory with its cosine similarity to the query.
type Result struct {
	Memory docstore.Memory
	Score  float64
}

// Saver writes memories. Implemented by [*Store].
type Saver interface {
	Save(ctx context.Context, m NewMemory) (docstore.Memory, error)
}

// Searcher retrieves memories. Implemented by [*Retriever].
type Searcher interface {
	Retrieve(ctx context.Context, campaignID string, embedding []float32, k int, opts ...RetrieveOpt) ([]Result, error)
}
