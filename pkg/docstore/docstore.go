// Package docstore defines the Document Store Adapter that the Realmkeeper
// core persists through.
//
// The adapter is a small transactional document API: get/insert/patch/delete
// by id, equality queries over a fixed set of indexed fields, and an
// approximate-nearest-neighbour vector query filtered by metadata. Every
// stored record is one variant of the closed [Document] set ([*Location],
// [*PlayerState], [*Shop], [*Memory]); there is no untyped "fetch anything"
// path.
//
// Backends live in sub-packages:
//
//   - memstore: in-process maps, brute-force cosine search.
//   - postgres: pgx pool with pgvector HNSW indexes.
//   - sqlite: single-file modernc.org/sqlite database.
//
// A single Get/Insert/Patch/Delete call is atomic. Backends that can group
// several writes atomically additionally implement [Transactor].
//
// Every implementation must be safe for concurrent use.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// EmbeddingDimensions is the fixed length D of every stored embedding vector.
const EmbeddingDimensions = 768

var (
	// ErrNotFound is returned when an id does not resolve to a document, or
	// resolves to a document of a different variant than the caller expects.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrPatchMismatch is returned by Patch when the patch variant does not
	// belong to the target document's collection.
	ErrPatchMismatch = errors.New("docstore: patch does not match document collection")

	// ErrUnsupportedField is returned when a query names a field that is not
	// indexed for the collection.
	ErrUnsupportedField = errors.New("docstore: field is not indexed for collection")

	// ErrUnsupportedCollection is returned for unknown collections and for
	// vector queries against collections without an embedding index.
	ErrUnsupportedCollection = errors.New("docstore: unsupported collection")
)

// Collection names a group of documents of the same variant.
type Collection string

const (
	CollectionLocations    Collection = "locations"
	CollectionPlayerStates Collection = "player_states"
	CollectionShops        Collection = "shops"
	CollectionMemories     Collection = "memories"
)

// IsValid reports whether c is a known collection.
func (c Collection) IsValid() bool {
	_, ok := indexes[c]
	return ok
}

// Searchable reports whether c carries an embedding index.
func (c Collection) Searchable() bool {
	return c == CollectionLocations || c == CollectionMemories
}

// Field names an indexed document attribute usable in [Store.QueryByIndex].
type Field string

const (
	FieldCampaignID Field = "campaign_id"
	FieldLocationID Field = "location_id"
	FieldPlayerID   Field = "player_id"
)

// indexes lists the equality-indexed fields of each collection.
var indexes = map[Collection][]Field{
	CollectionLocations:    {FieldCampaignID},
	CollectionPlayerStates: {FieldCampaignID, FieldPlayerID},
	CollectionShops:        {FieldCampaignID, FieldLocationID},
	CollectionMemories:     {FieldCampaignID},
}

// CheckIndex returns nil when field is indexed for collection.
func CheckIndex(c Collection, field Field) error {
	fields, ok := indexes[c]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedCollection, c)
	}
	if !slices.Contains(fields, field) {
		return fmt.Errorf("%w: %s.%s", ErrUnsupportedField, c, field)
	}
	return nil
}

// Filter restricts a vector query to documents matching every non-zero field.
// The filter is applied by the index query itself, never by discarding
// results afterwards.
type Filter struct {
	// CampaignID restricts results to one campaign. Required by the core
	// services; backends treat an empty value as "all campaigns".
	CampaignID string

	// Type restricts results to documents whose Type tag equals this value.
	// Empty matches all types.
	Type string
}

// ScoredDocument pairs a vector query hit with its cosine similarity to the
// query vector. Higher Score means more similar.
type ScoredDocument struct {
	Document Document
	Score    float64
}

// Store is the Document Store Adapter consumed by the core.
type Store interface {
	// Get resolves id to its document.
	// Returns [ErrNotFound] when no document has that id.
	Get(ctx context.Context, id string) (Document, error)

	// Insert stores doc and returns its id. A UUID is assigned when the
	// document's id is empty.
	Insert(ctx context.Context, doc Document) (string, error)

	// Patch applies p to the document with the given id.
	// Returns [ErrNotFound] when the id does not resolve and
	// [ErrPatchMismatch] when p targets another collection.
	Patch(ctx context.Context, id string, p Patch) error

	// Delete removes the document with the given id.
	// Returns [ErrNotFound] when the id does not resolve.
	Delete(ctx context.Context, id string) error

	// QueryByIndex returns every document in c whose field equals value, in
	// insertion order. Returns an empty (non-nil) slice when nothing matches.
	QueryByIndex(ctx context.Context, c Collection, field Field, value string) ([]Document, error)

	// VectorSearch returns up to k documents of c ordered by descending cosine
	// similarity to vec, restricted by filter.
	// Returns an empty (non-nil) slice when nothing matches.
	VectorSearch(ctx context.Context, c Collection, vec []float32, k int, filter Filter) ([]ScoredDocument, error)
}

// Transactor is implemented by backends that can apply several writes as one
// atomic unit. fn receives a Store bound to the transaction; when fn returns
// an error every write made through it is discarded.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
