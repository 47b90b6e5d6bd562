// Package memstore provides a thread-safe, in-process implementation of
// [docstore.Store].
//
// Vector queries are brute-force cosine scans over the filtered candidate set,
// which is fine for a single campaign's worth of documents and for tests. The
// store implements [docstore.Transactor]: a transaction holds the write lock
// and restores a snapshot when the callback fails.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Compile-time interface checks.
var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// Store is an in-memory document store. The zero value is ready to use.
type Store struct {
	mu sync.RWMutex

	// docs is never mutated in place: writes replace the entry with a fresh
	// clone so a shallow map snapshot is enough to roll back a transaction.
	docs  map[string]docstore.Document
	order []string
}

// New returns an empty [Store].
func New() *Store {
	return &Store{docs: make(map[string]docstore.Document)}
}

// Get implements [docstore.Store].
func (s *Store) Get(ctx context.Context, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, id)
}

// Insert implements [docstore.Store].
func (s *Store) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, doc)
}

// Patch implements [docstore.Store].
func (s *Store) Patch(ctx context.Context, id string, p docstore.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patch(ctx, id, p)
}

// Delete implements [docstore.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(ctx, id)
}

// QueryByIndex implements [docstore.Store].
func (s *Store) QueryByIndex(ctx context.Context, c docstore.Collection, field docstore.Field, value string) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(ctx, c, field, value)
}

// VectorSearch implements [docstore.Store].
func (s *Store) VectorSearch(ctx context.Context, c docstore.Collection, vec []float32, k int, filter docstore.Filter) ([]docstore.ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.search(ctx, c, vec, k, filter)
}

// WithinTx implements [docstore.Transactor]. Other callers block until fn
// returns.
func (s *Store) WithinTx(ctx context.Context, fn func(tx docstore.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs == nil {
		s.docs = make(map[string]docstore.Document)
	}
	snapshot := maps.Clone(s.docs)
	orderSnapshot := slices.Clone(s.order)

	if err := fn(&txStore{s: s}); err != nil {
		s.docs = snapshot
		s.order = orderSnapshot
		return err
	}
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// ─────────────────────────────────────────────────────────────────────────────
// Lock-free internals; callers hold s.mu.
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) get(ctx context.Context, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	return doc.Clone(), nil
}

func (s *Store) insert(ctx context.Context, doc docstore.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("memstore: insert: document must not be nil")
	}
	stored := doc.Clone()
	if stored.DocID() == "" {
		stored.SetID(uuid.NewString())
	}
	id := stored.DocID()
	if s.docs == nil {
		s.docs = make(map[string]docstore.Document)
	}
	if _, exists := s.docs[id]; exists {
		return "", fmt.Errorf("memstore: insert: duplicate id %q", id)
	}
	s.docs[id] = stored
	s.order = append(s.order, id)
	return id, nil
}

func (s *Store) patch(ctx context.Context, id string, p docstore.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	updated := doc.Clone()
	if err := p.ApplyTo(updated); err != nil {
		return fmt.Errorf("memstore: patch %s: %w", id, err)
	}
	s.docs[id] = updated
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	delete(s.docs, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return nil
}

func (s *Store) query(ctx context.Context, c docstore.Collection, field docstore.Field, value string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := docstore.CheckIndex(c, field); err != nil {
		return nil, err
	}
	out := []docstore.Document{}
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.Collection() != c {
			continue
		}
		if v, _ := doc.IndexValue(field); v == value {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (s *Store) search(ctx context.Context, c docstore.Collection, vec []float32, k int, filter docstore.Filter) ([]docstore.ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Searchable() {
		return nil, fmt.Errorf("%w: %q has no vector index", docstore.ErrUnsupportedCollection, c)
	}
	var candidates []docstore.Document
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.Collection() != c || !docstore.MatchesFilter(doc, filter) {
			continue
		}
		candidates = append(candidates, doc)
	}
	ranked := docstore.RankByCosine(candidates, vec, k)
	for i := range ranked {
		ranked[i].Document = ranked[i].Document.Clone()
	}
	return ranked, nil
}

// txStore is the [docstore.Store] view handed to a WithinTx callback. The
// parent's write lock is already held.
type txStore struct {
	s *Store
}

func (t *txStore) Get(ctx context.Context, id string) (docstore.Document, error) {
	return t.s.get(ctx, id)
}

func (t *txStore) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	return t.s.insert(ctx, doc)
}

func (t *txStore) Patch(ctx context.Context, id string, p docstore.Patch) error {
	return t.s.patch(ctx, id, p)
}

func (t *txStore) Delete(ctx context.Context, id string) error {
	return t.s.delete(ctx, id)
}

func (t *txStore) QueryByIndex(ctx context.Context, c docstore.Collection, field docstore.Field, value string) ([]docstore.Document, error) {
	return t.s.query(ctx, c, field, value)
}

func (t *txStore) VectorSearch(ctx context.Context, c docstore.Collection, vec []float32, k int, filter docstore.Filter) ([]docstore.ScoredDocument, error) {
	return t.s.search(ctx, c, vec, k, filter)
}
