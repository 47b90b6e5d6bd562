package world_test

import (
	"context"
	"testing"

	"github.com/MrWong99/realmkeeper/internal/world"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/memstore"
)

func TestGridPositions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int
		cfg  world.LayoutConfig
		want []world.Point
	}{
		{name: "zero", n: 0, cfg: world.DefaultLayout(), want: nil},
		{name: "one", n: 1, cfg: world.DefaultLayout(), want: []world.Point{{100, 100}}},
		{
			name: "three on a 2-wide grid",
			n:    3,
			cfg:  world.DefaultLayout(),
			want: []world.Point{{100, 100}, {300, 100}, {100, 300}},
		},
		{
			name: "zero offset starts at the origin",
			n:    2,
			cfg:  world.LayoutConfig{Spacing: 50},
			want: []world.Point{{0, 0}, {50, 0}},
		},
		{
			name: "negative offset and spacing take defaults",
			n:    2,
			cfg:  world.LayoutConfig{Spacing: -1, Offset: -5},
			want: []world.Point{{100, 100}, {300, 100}},
		},
		{
			name: "custom spacing",
			n:    4,
			cfg:  world.LayoutConfig{Spacing: 50, Offset: 10},
			want: []world.Point{{10, 10}, {60, 10}, {10, 60}, {60, 60}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := world.GridPositions(tc.n, tc.cfg)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("point %d = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestGridPositions_Distinct(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 60; n++ {
		seen := make(map[world.Point]bool, n)
		for _, p := range world.GridPositions(n, world.LayoutConfig{}) {
			if seen[p] {
				t.Fatalf("n=%d: duplicate point %v", n, p)
			}
			seen[p] = true
		}
	}
}

func TestAutoLayout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	svc := newService(t, store)

	fixed, _ := store.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "Fixed", MapX: docstore.Ptr(7), MapY: docstore.Ptr(9)})
	halfX, _ := store.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "HalfX", MapX: docstore.Ptr(5)})
	fresh1 := insertLocation(t, store, "c1", "Fresh1")
	fresh2 := insertLocation(t, store, "c1", "Fresh2")
	other := insertLocation(t, store, "c2", "OtherCampaign")

	placed, err := svc.AutoLayout(ctx, "c1")
	if err != nil {
		t.Fatalf("AutoLayout: %v", err)
	}
	if placed != 3 {
		t.Errorf("placed = %d, want 3", placed)
	}

	pos := func(id string) (int, int, bool) {
		loc, err := docstore.GetLocation(ctx, store, id)
		if err != nil {
			t.Fatalf("GetLocation: %v", err)
		}
		if !loc.Positioned() {
			return 0, 0, false
		}
		return *loc.MapX, *loc.MapY, true
	}

	if x, y, _ := pos(fixed); x != 7 || y != 9 {
		t.Errorf("positioned location moved to (%d, %d)", x, y)
	}
	want := map[string]world.Point{
		halfX:  {100, 100},
		fresh1: {300, 100},
		fresh2: {100, 300},
	}
	for id, p := range want {
		x, y, ok := pos(id)
		if !ok || x != p.X || y != p.Y {
			t.Errorf("location %s at (%d, %d, %v), want %v", id, x, y, ok, p)
		}
	}
	if _, _, ok := pos(other); ok {
		t.Error("auto-layout touched another campaign")
	}

	again, err := svc.AutoLayout(ctx, "c1")
	if err != nil {
		t.Fatalf("second AutoLayout: %v", err)
	}
	if again != 0 {
		t.Errorf("second AutoLayout placed %d, want 0", again)
	}
}

func TestAutoLayout_ConfiguredGrid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	svc := newService(t, store, world.WithLayout(world.LayoutConfig{Spacing: 64, Offset: 32}))
	id := insertLocation(t, store, "c1", "Solo")

	if _, err := svc.AutoLayout(ctx, "c1"); err != nil {
		t.Fatalf("AutoLayout: %v", err)
	}
	loc, _ := docstore.GetLocation(ctx, store, id)
	if *loc.MapX != 32 || *loc.MapY != 32 {
		t.Errorf("position = (%d, %d), want (32, 32)", *loc.MapX, *loc.MapY)
	}
}

func TestAutoLayout_ZeroOffset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	svc := newService(t, store, world.WithLayout(world.LayoutConfig{Spacing: 64, Offset: 0}))
	id := insertLocation(t, store, "c1", "Origin")

	if _, err := svc.AutoLayout(ctx, "c1"); err != nil {
		t.Fatalf("AutoLayout: %v", err)
	}
	loc, _ := docstore.GetLocation(ctx, store, id)
	if *loc.MapX != 0 || *loc.MapY != 0 {
		t.Errorf("position = (%d, %d), want (0, 0)", *loc.MapX, *loc.MapY)
	}
}
