package mcpserver_test

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/realmkeeper/internal/mcpserver"
	"github.com/MrWong99/realmkeeper/internal/narration"
	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/internal/travel"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/memstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/storetest"
	"github.com/MrWong99/realmkeeper/pkg/memory"
	embmock "github.com/MrWong99/realmkeeper/pkg/provider/embeddings/mock"
)

type fixture struct {
	docs     *memstore.Store
	reader   *sdkmetric.ManualReader
	session  *mcp.ClientSession
	embedder *embmock.Provider

	town, forest, cave string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	docs := memstore.New()
	svc := world.NewService(docs, world.WithMetrics(m))
	f := &fixture{docs: docs, reader: reader}
	for _, loc := range []struct {
		id  *string
		loc docstore.Location
		emb []float32
	}{
		{&f.town, docstore.Location{CampaignID: "c1", Name: "Millbrook", Type: "town", Description: "A sleepy market town."}, storetest.Axis(0)},
		{&f.forest, docstore.Location{CampaignID: "c1", Name: "Whispering Forest", Type: "forest"}, storetest.Axis(1)},
		{&f.cave, docstore.Location{CampaignID: "c1", Name: "Dragon Cave", Type: "cave"}, storetest.Axis(2)},
	} {
		loc.loc.Embedding = loc.emb
		id, err := svc.AddLocation(ctx, loc.loc)
		if err != nil {
			t.Fatalf("AddLocation: %v", err)
		}
		*loc.id = id
	}
	if err := svc.Connect(ctx, f.town, f.forest); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := docs.Insert(ctx, &docstore.PlayerState{CampaignID: "c1", PlayerID: "p1", CurrentLocationID: f.town}); err != nil {
		t.Fatalf("Insert player: %v", err)
	}

	f.embedder = &embmock.Provider{
		DimensionsValue: memory.Dimensions,
		EmbedResult:     storetest.Axis(7),
		Vectors: map[string][]float32{
			"who rules now?":      storetest.Axis(3),
			"what is this place?": storetest.Axis(0),
		},
	}
	retriever := memory.NewRetriever(docs, memory.WithRetrieverMetrics(m))
	srv, err := mcpserver.New(mcpserver.Deps{
		World:     svc,
		Travel:    travel.New(docs, m),
		Memories:  memory.NewStore(docs, memory.WithStoreMetrics(m)),
		Searcher:  retriever,
		Narration: narration.NewAssembler(retriever, docs),
		Embedder:  f.embedder,
	}, mcpserver.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	st, ct := mcp.NewInMemoryTransports()
	ss, err := srv.SDK().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	f.session = cs
	return f
}

// call invokes a tool and decodes its structured result into out. It fails
// the test on protocol errors; tool errors are left to the caller.
func (f *fixture) call(t *testing.T, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := f.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if out != nil && !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			t.Fatalf("marshal structured content: %v", err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s result: %v", name, err)
		}
	}
	return res
}

func errorText(res *mcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestNew_MissingDeps(t *testing.T) {
	t.Parallel()

	_, err := mcpserver.New(mcpserver.Deps{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"world service", "travel validator", "narration assembler"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}

func TestListTools(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{"auto_layout", "backfill_embeddings", "can_travel", "map_data", "narration_context", "neighbors", "recall", "remember", "travel"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestListTools_WithoutEmbedder(t *testing.T) {
	t.Parallel()

	docs := memstore.New()
	retriever := memory.NewRetriever(docs)
	srv, err := mcpserver.New(mcpserver.Deps{
		World:     world.NewService(docs),
		Travel:    travel.New(docs, nil),
		Memories:  memory.NewStore(docs),
		Searcher:  retriever,
		Narration: narration.NewAssembler(retriever, docs),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	ss, err := srv.SDK().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	defer ss.Close()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil).Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	for _, tool := range res.Tools {
		switch tool.Name {
		case "remember", "recall", "narration_context", "backfill_embeddings":
			t.Errorf("memory tool %q offered without an embedder", tool.Name)
		}
	}
	if len(res.Tools) != 5 {
		t.Errorf("got %d tools, want 5", len(res.Tools))
	}
}

func TestMapDataAndNeighbors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var md mcpserver.MapDataOutput
	if res := f.call(t, "map_data", map[string]any{"campaign_id": "c1"}, &md); res.IsError {
		t.Fatalf("map_data failed: %s", errorText(res))
	}
	if len(md.Locations) != 3 {
		t.Fatalf("locations = %+v", md.Locations)
	}

	var nb mcpserver.NeighborsOutput
	if res := f.call(t, "neighbors", map[string]any{"location_id": f.town}, &nb); res.IsError {
		t.Fatalf("neighbors failed: %s", errorText(res))
	}
	if len(nb.Neighbors) != 1 || nb.Neighbors[0].ID != f.forest {
		t.Errorf("neighbors = %+v, want [forest]", nb.Neighbors)
	}
}

func TestCanTravel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		name       string
		to         string
		wantOK     bool
		wantReason travel.Reason
	}{
		{name: "adjacent", to: f.forest, wantOK: true},
		{name: "not adjacent", to: f.cave, wantReason: travel.ReasonNotAdjacent},
		{name: "unknown", to: "nowhere", wantReason: travel.ReasonNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out mcpserver.CanTravelOutput
			res := f.call(t, "can_travel", map[string]any{"campaign_id": "c1", "from_id": f.town, "to_id": tc.to}, &out)
			if res.IsError {
				t.Fatalf("can_travel failed: %s", errorText(res))
			}
			if out.CanTravel != tc.wantOK || out.Reason != string(tc.wantReason) {
				t.Errorf("got %+v, want ok=%v reason=%q", out, tc.wantOK, tc.wantReason)
			}
		})
	}
}

func TestTravel_ByName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var out mcpserver.TravelOutput
	res := f.call(t, "travel", map[string]any{
		"campaign_id": "c1",
		"player_id":   "p1",
		"from_id":     f.town,
		"destination": "the whispering forrest",
	}, &out)
	if res.IsError {
		t.Fatalf("travel failed: %s", errorText(res))
	}
	if out.ToID != f.forest || !out.PositionUpdated {
		t.Errorf("travel = %+v", out)
	}

	state, err := docstore.FindPlayerState(context.Background(), f.docs, "c1", "p1")
	if err != nil || state == nil {
		t.Fatalf("FindPlayerState = %v, %v", state, err)
	}
	if state.CurrentLocationID != f.forest {
		t.Errorf("player at %s, want %s", state.CurrentLocationID, f.forest)
	}
}

func TestTravel_Rejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tests := []struct {
		name    string
		args    map[string]any
		wantSub string
	}{
		{
			name:    "not adjacent by id",
			args:    map[string]any{"campaign_id": "c1", "player_id": "p1", "from_id": f.town, "to_id": f.cave},
			wantSub: "not directly connected",
		},
		{
			// The cave exists but is not a neighbor, so it is never a candidate.
			name:    "not adjacent by name",
			args:    map[string]any{"campaign_id": "c1", "player_id": "p1", "from_id": f.town, "destination": "Dragon Cave"},
			wantSub: "not adjacent",
		},
		{
			name:    "no destination",
			args:    map[string]any{"campaign_id": "c1", "player_id": "p1", "from_id": f.town},
			wantSub: "required",
		},
		{
			name:    "both destinations",
			args:    map[string]any{"campaign_id": "c1", "player_id": "p1", "from_id": f.town, "to_id": f.forest, "destination": "forest"},
			wantSub: "not both",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := f.call(t, "travel", tc.args, nil)
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			if got := errorText(res); !strings.Contains(got, tc.wantSub) {
				t.Errorf("error %q lacks %q", got, tc.wantSub)
			}
		})
	}

	state, _ := docstore.FindPlayerState(context.Background(), f.docs, "c1", "p1")
	if state.CurrentLocationID != f.town {
		t.Errorf("player moved to %s after rejected travel", state.CurrentLocationID)
	}
}

func TestAutoLayout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var out mcpserver.AutoLayoutOutput
	if res := f.call(t, "auto_layout", map[string]any{"campaign_id": "c1"}, &out); res.IsError {
		t.Fatalf("auto_layout failed: %s", errorText(res))
	}
	if out.Placed != 3 {
		t.Errorf("placed = %d, want 3", out.Placed)
	}
	f.call(t, "auto_layout", map[string]any{"campaign_id": "c1"}, &out)
	if out.Placed != 0 {
		t.Errorf("second layout placed %d, want 0", out.Placed)
	}
}

func TestRememberAndRecall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.embedder.Vectors["The old king died without an heir."] = storetest.Blend(3, 4, 0.1)

	var saved mcpserver.RememberOutput
	res := f.call(t, "remember", map[string]any{
		"campaign_id": "c1",
		"content":     "The old king died without an heir.",
		"importance":  9,
	}, &saved)
	if res.IsError {
		t.Fatalf("remember failed: %s", errorText(res))
	}
	if saved.ID == "" {
		t.Fatal("remember returned no id")
	}

	var recalled mcpserver.RecallOutput
	if res := f.call(t, "recall", map[string]any{"campaign_id": "c1", "query": "who rules now?"}, &recalled); res.IsError {
		t.Fatalf("recall failed: %s", errorText(res))
	}
	if len(recalled.Memories) != 1 || recalled.Memories[0].ID != saved.ID {
		t.Fatalf("recall = %+v", recalled.Memories)
	}
	if got := recalled.Memories[0]; got.Type != memory.TypeFact || got.Importance == nil || *got.Importance != 9 {
		t.Errorf("recalled memory = %+v", got)
	}

	f.call(t, "recall", map[string]any{"campaign_id": "c2", "query": "who rules now?"}, &recalled)
	if len(recalled.Memories) != 0 {
		t.Errorf("other campaign recalled %+v", recalled.Memories)
	}

	f.call(t, "recall", map[string]any{"campaign_id": "c1", "query": "who rules now?", "type": memory.TypeEvent}, &recalled)
	if len(recalled.Memories) != 0 {
		t.Errorf("type filter ignored: %+v", recalled.Memories)
	}
}

func TestRecall_CapsK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	store := memory.NewStore(f.docs)
	for range 60 {
		if _, err := store.SaveMemory(context.Background(), "c1", "a crown was found", memory.TypeFact, storetest.Axis(3)); err != nil {
			t.Fatalf("SaveMemory: %v", err)
		}
	}

	var recalled mcpserver.RecallOutput
	res := f.call(t, "recall", map[string]any{"campaign_id": "c1", "query": "who rules now?", "k": 1 << 40}, &recalled)
	if res.IsError {
		t.Fatalf("recall failed: %s", errorText(res))
	}
	if len(recalled.Memories) != 50 {
		t.Errorf("recall returned %d memories, want 50", len(recalled.Memories))
	}
}

func TestBackfillEmbeddings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ruins, err := f.docs.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "Old Ruins", Type: "ruins", Neighbors: []string{}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	f.embedder.Vectors["Name: Old Ruins\nType: ruins"] = storetest.Axis(5)

	var out mcpserver.BackfillEmbeddingsOutput
	res := f.call(t, "backfill_embeddings", map[string]any{"campaign_id": "c1", "dry_run": true}, &out)
	if res.IsError {
		t.Fatalf("backfill_embeddings failed: %s", errorText(res))
	}
	if out != (mcpserver.BackfillEmbeddingsOutput{Processed: 1, Skipped: 3, DryRun: true}) {
		t.Errorf("dry run = %+v", out)
	}

	f.call(t, "backfill_embeddings", map[string]any{"campaign_id": "c1"}, &out)
	if out.Updated != 1 {
		t.Errorf("backfill = %+v, want 1 updated", out)
	}
	loc, err := docstore.GetLocation(ctx, f.docs, ruins)
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if len(loc.Embedding) == 0 || loc.Embedding[5] != 1 {
		t.Error("ruins not embedded from its name and type")
	}
}

func TestRemember_Invalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.call(t, "remember", map[string]any{"campaign_id": "c1", "content": "x", "importance": 11}, nil)
	if !res.IsError {
		t.Fatal("expected tool error for importance 11")
	}
	res = f.call(t, "remember", map[string]any{"campaign_id": "c1", "content": ""}, nil)
	if !res.IsError {
		t.Fatal("expected tool error for empty content")
	}
	if f.docs.Len() != 4 {
		t.Errorf("store holds %d documents, want the 4 seeded", f.docs.Len())
	}
}

func TestNarrationContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var out mcpserver.NarrationContextOutput
	res := f.call(t, "narration_context", map[string]any{"campaign_id": "c1", "query": "what is this place?"}, &out)
	if res.IsError {
		t.Fatalf("narration_context failed: %s", errorText(res))
	}
	if out.Locations != 1 || !strings.Contains(out.Context, "[LOCATION]: Millbrook (town)") {
		t.Errorf("context = %+v", out)
	}
}

func TestToolMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.call(t, "neighbors", map[string]any{"location_id": f.town}, nil)
	f.call(t, "travel", map[string]any{"campaign_id": "c1", "player_id": "p1", "from_id": f.town}, nil)

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var calls int64
	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "realmkeeper.tool.calls":
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("tool.calls data = %T", met.Data)
				}
				for _, dp := range sum.DataPoints {
					calls += dp.Value
				}
			case "realmkeeper.tool_execution.duration":
				sawDuration = true
			}
		}
	}
	if calls != 2 {
		t.Errorf("tool calls = %d, want 2", calls)
	}
	if !sawDuration {
		t.Error("tool duration not recorded")
	}
}
