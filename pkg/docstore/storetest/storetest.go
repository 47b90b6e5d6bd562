// Package storetest provides a backend-agnostic conformance suite for
// [docstore.Store] implementations, plus vector helpers shared by tests of
// the packages built on top of the store.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Axis returns a unit vector of [docstore.EmbeddingDimensions] length pointing
// along dimension i.
func Axis(i int) []float32 {
	v := make([]float32, docstore.EmbeddingDimensions)
	v[i%len(v)] = 1
	return v
}

// Blend returns a vector mostly along axis i with a weight w component along
// axis j. Smaller w means closer to Axis(i).
func Blend(i, j int, w float32) []float32 {
	v := Axis(i)
	v[j%len(v)] += w
	return v
}

// Run executes the conformance suite. newStore must return a fresh, empty
// store for every call.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Helper()

	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("Patch", func(t *testing.T) { testPatch(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("QueryByIndexOrder", func(t *testing.T) { testQueryOrder(t, newStore(t)) })
	t.Run("VectorSearchFilter", func(t *testing.T) { testVectorFilter(t, newStore(t)) })
	t.Run("PatchEmbedding", func(t *testing.T) { testPatchEmbedding(t, newStore(t)) })
	t.Run("Transaction", func(t *testing.T) { testTransaction(t, newStore(t)) })
}

func testInsertGet(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	loc := &docstore.Location{
		CampaignID:  "c1",
		Name:        "Town",
		Type:        "town",
		Description: "A quiet market town.",
		MapIcon:     docstore.Ptr("house"),
		Neighbors:   []string{},
	}
	id, err := s.Insert(ctx, loc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatal("Insert: expected generated id")
	}

	got, err := docstore.GetLocation(ctx, s, id)
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if got.Name != "Town" || got.CampaignID != "c1" || got.MapIcon == nil || *got.MapIcon != "house" {
		t.Errorf("GetLocation: unexpected document %+v", got)
	}
	if got.Positioned() {
		t.Error("fresh location must be unpositioned")
	}

	memID, err := s.Insert(ctx, &docstore.Memory{
		CampaignID: "c1",
		Content:    "The king died",
		Type:       "fact",
		Embedding:  Axis(3),
		Importance: docstore.Ptr(7.0),
		RelatedID:  id,
		Metadata:   map[string]any{"source": "summary"},
	})
	if err != nil {
		t.Fatalf("Insert memory: %v", err)
	}
	mem, err := docstore.GetMemory(ctx, s, memID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if len(mem.Embedding) != docstore.EmbeddingDimensions || mem.Embedding[3] != 1 {
		t.Errorf("GetMemory: embedding not round-tripped")
	}
	if mem.Importance == nil || *mem.Importance != 7 {
		t.Errorf("GetMemory: importance = %v, want 7", mem.Importance)
	}
	if mem.Metadata["source"] != "summary" {
		t.Errorf("GetMemory: metadata = %v", mem.Metadata)
	}

	// A memory id must not resolve as a location.
	if _, err := docstore.GetLocation(ctx, s, memID); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("GetLocation(memory id): want ErrNotFound, got %v", err)
	}
}

func testGetMissing(t *testing.T, s docstore.Store) {
	_, err := s.Get(context.Background(), "does-not-exist")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Get: want ErrNotFound, got %v", err)
	}
}

func testPatch(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "Forest", Type: "wild"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	neighbors := []string{"x", "y"}
	err = s.Patch(ctx, id, docstore.LocationPatch{
		Neighbors: &neighbors,
		MapX:      docstore.Ptr(100),
		MapY:      docstore.Ptr(300),
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	got, err := docstore.GetLocation(ctx, s, id)
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if len(got.Neighbors) != 2 || !got.HasNeighbor("y") {
		t.Errorf("Neighbors = %v, want [x y]", got.Neighbors)
	}
	if !got.Positioned() || *got.MapX != 100 || *got.MapY != 300 {
		t.Errorf("position = (%v, %v), want (100, 300)", got.MapX, got.MapY)
	}
	if got.Name != "Forest" {
		t.Errorf("Patch must leave Name unchanged, got %q", got.Name)
	}

	if err := s.Patch(ctx, id, docstore.PlayerPatch{CurrentLocationID: docstore.Ptr("x")}); !errors.Is(err, docstore.ErrPatchMismatch) {
		t.Errorf("Patch(player patch on location): want ErrPatchMismatch, got %v", err)
	}
	if err := s.Patch(ctx, "missing", docstore.LocationPatch{}); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("Patch(missing): want ErrNotFound, got %v", err)
	}
}

func testDelete(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, &docstore.Shop{CampaignID: "c1", LocationID: "l1", Name: "Smithy"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("Get after Delete: want ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, id); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("second Delete: want ErrNotFound, got %v", err)
	}
}

func testQueryOrder(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	names := []string{"A", "B", "C", "D"}
	for _, n := range names {
		if _, err := s.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: n}); err != nil {
			t.Fatalf("Insert %s: %v", n, err)
		}
	}
	if _, err := s.Insert(ctx, &docstore.Location{CampaignID: "c2", Name: "Other"}); err != nil {
		t.Fatalf("Insert Other: %v", err)
	}

	locs, err := docstore.CampaignLocations(ctx, s, "c1")
	if err != nil {
		t.Fatalf("CampaignLocations: %v", err)
	}
	if len(locs) != len(names) {
		t.Fatalf("CampaignLocations: want %d, got %d", len(names), len(locs))
	}
	for i, l := range locs {
		if l.Name != names[i] {
			t.Errorf("locs[%d] = %q, want %q (insertion order)", i, l.Name, names[i])
		}
	}

	none, err := docstore.CampaignLocations(ctx, s, "c-none")
	if err != nil {
		t.Fatalf("CampaignLocations(empty): %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("CampaignLocations(empty): want empty non-nil slice, got %v", none)
	}

	if _, err := s.QueryByIndex(ctx, docstore.CollectionMemories, docstore.FieldPlayerID, "p"); !errors.Is(err, docstore.ErrUnsupportedField) {
		t.Errorf("QueryByIndex(unindexed): want ErrUnsupportedField, got %v", err)
	}

	if _, err := s.Insert(ctx, &docstore.PlayerState{CampaignID: "c1", PlayerID: "p1", CurrentLocationID: locs[0].ID}); err != nil {
		t.Fatalf("Insert player: %v", err)
	}
	ps, err := docstore.FindPlayerState(ctx, s, "c1", "p1")
	if err != nil || ps == nil {
		t.Fatalf("FindPlayerState: got (%v, %v)", ps, err)
	}
	if ps, _ := docstore.FindPlayerState(ctx, s, "c2", "p1"); ps != nil {
		t.Errorf("FindPlayerState must be campaign-scoped, got %+v", ps)
	}
}

func testPatchEmbedding(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	id, err := s.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "Ruins", Neighbors: []string{}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	search := func() []docstore.ScoredDocument {
		t.Helper()
		res, err := s.VectorSearch(ctx, docstore.CollectionLocations, Axis(5), 5, docstore.Filter{CampaignID: "c1"})
		if err != nil {
			t.Fatalf("VectorSearch: %v", err)
		}
		return res
	}
	if res := search(); len(res) != 0 {
		t.Fatalf("unembedded location returned by VectorSearch: %d hits", len(res))
	}

	vec := Axis(5)
	if err := s.Patch(ctx, id, docstore.LocationPatch{Embedding: &vec}); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	got, err := docstore.GetLocation(ctx, s, id)
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if len(got.Embedding) != docstore.EmbeddingDimensions || got.Embedding[5] != 1 || got.Name != "Ruins" {
		t.Errorf("patched location = %+v", got)
	}
	if res := search(); len(res) != 1 || res[0].Document.DocID() != id {
		t.Errorf("VectorSearch after Patch: want [%s], got %d hits", id, len(res))
	}

	empty := []float32{}
	if err := s.Patch(ctx, id, docstore.LocationPatch{Embedding: &empty}); err != nil {
		t.Fatalf("Patch(clear): %v", err)
	}
	if res := search(); len(res) != 0 {
		t.Errorf("cleared embedding still searchable: %d hits", len(res))
	}
}

func testVectorFilter(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	insert := func(campaign, typ string, vec []float32) string {
		t.Helper()
		id, err := s.Insert(ctx, &docstore.Memory{CampaignID: campaign, Content: typ, Type: typ, Embedding: vec})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		return id
	}
	exact := insert("c1", "fact", Axis(0))
	near := insert("c1", "summary", Blend(0, 1, 0.5))
	insert("c1", "fact", Axis(2))
	insert("c2", "fact", Axis(0)) // identical vector, other campaign

	res, err := s.VectorSearch(ctx, docstore.CollectionMemories, Axis(0), 10, docstore.Filter{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("VectorSearch: want 3 results from c1, got %d", len(res))
	}
	if res[0].Document.DocID() != exact || res[1].Document.DocID() != near {
		t.Errorf("VectorSearch: unexpected order [%s %s]", res[0].Document.DocID(), res[1].Document.DocID())
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Errorf("VectorSearch: scores not descending at %d", i)
		}
	}
	for _, r := range res {
		if r.Document.Campaign() != "c1" {
			t.Errorf("VectorSearch: leaked document from campaign %q", r.Document.Campaign())
		}
	}

	typed, err := s.VectorSearch(ctx, docstore.CollectionMemories, Axis(0), 10, docstore.Filter{CampaignID: "c1", Type: "summary"})
	if err != nil {
		t.Fatalf("VectorSearch(type): %v", err)
	}
	if len(typed) != 1 || typed[0].Document.DocID() != near {
		t.Errorf("VectorSearch(type): want only %s, got %d results", near, len(typed))
	}

	limited, err := s.VectorSearch(ctx, docstore.CollectionMemories, Axis(0), 1, docstore.Filter{CampaignID: "c1"})
	if err != nil {
		t.Fatalf("VectorSearch(k=1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("VectorSearch(k=1): want 1, got %d", len(limited))
	}

	if _, err := s.VectorSearch(ctx, docstore.CollectionShops, Axis(0), 1, docstore.Filter{}); !errors.Is(err, docstore.ErrUnsupportedCollection) {
		t.Errorf("VectorSearch(shops): want ErrUnsupportedCollection, got %v", err)
	}
}

func testTransaction(t *testing.T, s docstore.Store) {
	tx, ok := s.(docstore.Transactor)
	if !ok {
		t.Skip("backend does not implement docstore.Transactor")
	}
	ctx := context.Background()
	id, err := s.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "Keep"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	boom := errors.New("boom")
	err = tx.WithinTx(ctx, func(txs docstore.Store) error {
		if err := txs.Patch(ctx, id, docstore.LocationPatch{MapIcon: docstore.Ptr("tower")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx: want callback error, got %v", err)
	}
	got, err := docstore.GetLocation(ctx, s, id)
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if got.MapIcon != nil {
		t.Errorf("rolled-back patch is visible: icon %q", *got.MapIcon)
	}

	err = tx.WithinTx(ctx, func(txs docstore.Store) error {
		return txs.Patch(ctx, id, docstore.LocationPatch{MapIcon: docstore.Ptr("tower")})
	})
	if err != nil {
		t.Fatalf("WithinTx commit: %v", err)
	}
	got, _ = docstore.GetLocation(ctx, s, id)
	if got.MapIcon == nil || *got.MapIcon != "tower" {
		t.Errorf("committed patch not visible")
	}
}
