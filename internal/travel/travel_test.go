package travel_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/internal/travel"
	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/memstore"
)

// failingStore fails every Get with err.
type failingStore struct {
	docstore.Store
	err error
}

func (f failingStore) Get(context.Context, string) (docstore.Document, error) {
	return nil, f.err
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	store  *memstore.Store
	graph  *world.Service
	travel *travel.Validator
	town   string
	forest string
	cave   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	m := testMetrics(t)
	f := &fixture{
		store:  store,
		graph:  world.NewService(store, world.WithMetrics(m)),
		travel: travel.New(store, m),
	}
	insert := func(campaign, name string) string {
		id, err := store.Insert(ctx, &docstore.Location{CampaignID: campaign, Name: name, Type: "wild", Description: name + " description"})
		if err != nil {
			t.Fatalf("Insert %s: %v", name, err)
		}
		return id
	}
	f.town = insert("C1", "Town")
	f.forest = insert("C1", "Forest")
	f.cave = insert("C2", "Cave")
	return f
}

func (f *fixture) playerLocation(t *testing.T, campaign, player string) string {
	t.Helper()
	ps, err := docstore.FindPlayerState(context.Background(), f.store, campaign, player)
	if err != nil || ps == nil {
		t.Fatalf("FindPlayerState: (%v, %v)", ps, err)
	}
	return ps.CurrentLocationID
}

// TestTownForestScenario walks connect, check, move, disconnect and a stale
// move attempt.
func TestTownForestScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.store.Insert(ctx, &docstore.PlayerState{CampaignID: "C1", PlayerID: "p1", CurrentLocationID: f.town}); err != nil {
		t.Fatalf("Insert player: %v", err)
	}

	if err := f.graph.Connect(ctx, f.town, f.forest); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	check, err := f.travel.CanTravelTo(ctx, "C1", f.town, f.forest)
	if err != nil {
		t.Fatalf("CanTravelTo: %v", err)
	}
	if !check.CanTravel || check.Destination == nil || check.Destination.ID != f.forest || check.Destination.Name != "Forest" {
		t.Fatalf("CanTravelTo = %+v, want travel to Forest", check)
	}
	if check.Destination.Description != "Forest description" {
		t.Errorf("Destination.Description = %q", check.Destination.Description)
	}

	res, err := f.travel.TravelToLocation(ctx, "C1", "p1", f.town, f.forest)
	if err != nil {
		t.Fatalf("TravelToLocation: %v", err)
	}
	if !res.PositionUpdated || res.From.ID != f.town || res.To.ID != f.forest {
		t.Errorf("TravelToLocation = %+v", res)
	}
	if got := f.playerLocation(t, "C1", "p1"); got != f.forest {
		t.Errorf("player location = %s, want Forest", got)
	}

	if err := f.graph.Disconnect(ctx, f.town, f.forest); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	_, err = f.travel.TravelToLocation(ctx, "C1", "p1", f.forest, f.town)
	if !errors.Is(err, travel.ErrIllegalMove) {
		t.Fatalf("stale TravelToLocation = %v, want ErrIllegalMove", err)
	}
	var me *travel.MoveError
	if !errors.As(err, &me) || me.Reason != travel.ReasonNotAdjacent {
		t.Errorf("error = %#v, want *MoveError with not_adjacent", err)
	}
	if got := f.playerLocation(t, "C1", "p1"); got != f.forest {
		t.Errorf("rejected move changed player location to %s", got)
	}
}

func TestCanTravelTo_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name     string
		campaign string
		from, to string
		want     travel.Reason
		wantMsg  string
	}{
		{"missing destination", "C1", f.town, "ghost", travel.ReasonNotFound, "location not found"},
		{"missing source", "C1", "ghost", f.town, travel.ReasonNotFound, "location not found"},
		{"destination in other campaign", "C1", f.town, f.cave, travel.ReasonWrongCampaign, "location not in this campaign"},
		{"campaign mismatch on both", "C2", f.town, f.forest, travel.ReasonWrongCampaign, "location not in this campaign"},
		{"not adjacent", "C1", f.town, f.forest, travel.ReasonNotAdjacent, "Forest is not directly connected to Town"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := f.travel.CanTravelTo(ctx, tc.campaign, tc.from, tc.to)
			if err != nil {
				t.Fatalf("CanTravelTo returned error for expected rejection: %v", err)
			}
			if got.CanTravel || got.Reason != tc.want || got.Message != tc.wantMsg || got.Destination != nil {
				t.Errorf("CanTravelTo = %+v, want reason %q message %q", got, tc.want, tc.wantMsg)
			}
		})
	}
}

func TestTravelToLocation_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.travel.TravelToLocation(ctx, "C1", "p1", f.town, "ghost"); !errors.Is(err, travel.ErrNotFound) {
		t.Errorf("missing location = %v, want ErrNotFound", err)
	}
	if _, err := f.travel.TravelToLocation(ctx, "C1", "p1", f.town, f.cave); !errors.Is(err, travel.ErrNotFound) {
		t.Errorf("cross-campaign location = %v, want ErrNotFound", err)
	}
	if _, err := f.travel.TravelToLocation(ctx, "C1", "p1", f.town, f.forest); !errors.Is(err, travel.ErrIllegalMove) {
		t.Errorf("non-neighbor = %v, want ErrIllegalMove", err)
	}
}

func TestTravelToLocation_WithoutPlayerState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	if err := f.graph.Connect(ctx, f.town, f.forest); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Same player id exists, but only in another campaign.
	if _, err := f.store.Insert(ctx, &docstore.PlayerState{CampaignID: "C2", PlayerID: "p1", CurrentLocationID: f.cave}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	res, err := f.travel.TravelToLocation(ctx, "C1", "p1", f.town, f.forest)
	if err != nil {
		t.Fatalf("TravelToLocation: %v", err)
	}
	if res.PositionUpdated {
		t.Error("PositionUpdated = true without a player state in the campaign")
	}
	if got := f.playerLocation(t, "C2", "p1"); got != f.cave {
		t.Errorf("player state of other campaign changed to %s", got)
	}
}

func TestStoreFailurePropagates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("store unavailable")
	v := travel.New(failingStore{Store: memstore.New(), err: boom}, testMetrics(t))

	if _, err := v.CanTravelTo(ctx, "C1", "a", "b"); !errors.Is(err, boom) {
		t.Errorf("CanTravelTo = %v, want store error", err)
	}
	_, err := v.TravelToLocation(ctx, "C1", "p1", "a", "b")
	if !errors.Is(err, boom) {
		t.Errorf("TravelToLocation = %v, want store error", err)
	}
	if errors.Is(err, travel.ErrIllegalMove) || errors.Is(err, travel.ErrNotFound) {
		t.Errorf("store failure must not look like a rejection: %v", err)
	}
}
