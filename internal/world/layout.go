package world

import (
	"context"
	"fmt"
	"math"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Default grid parameters, in map pixels.
const (
	DefaultLayoutSpacing = 200
	DefaultLayoutOffset  = 100
)

// LayoutConfig controls the auto-layout grid. A non-positive Spacing or a
// negative Offset takes the default; Offset zero starts the grid at the map
// origin.
type LayoutConfig struct {
	Spacing int
	Offset  int
}

// DefaultLayout is the grid a [Service] uses until [WithLayout] or
// SetLayout replaces it.
func DefaultLayout() LayoutConfig {
	return LayoutConfig{Spacing: DefaultLayoutSpacing, Offset: DefaultLayoutOffset}
}

func (c LayoutConfig) withDefaults() LayoutConfig {
	if c.Spacing <= 0 {
		c.Spacing = DefaultLayoutSpacing
	}
	if c.Offset < 0 {
		c.Offset = DefaultLayoutOffset
	}
	return c
}

// Point is a grid coordinate.
type Point struct {
	X, Y int
}

// GridPositions returns n distinct coordinates laid out row by row on a
// ceil(sqrt(n)) wide square grid.
func GridPositions(n int, cfg LayoutConfig) []Point {
	if n <= 0 {
		return nil
	}
	cfg = cfg.withDefaults()
	size := int(math.Ceil(math.Sqrt(float64(n))))
	out := make([]Point, n)
	for i := range out {
		col, row := i%size, i/size
		out[i] = Point{
			X: cfg.Offset + col*cfg.Spacing,
			Y: cfg.Offset + row*cfg.Spacing,
		}
	}
	return out
}

// AutoLayout assigns grid coordinates to every location in the campaign that
// lacks either coordinate, in insertion order. Positioned locations are left
// alone. It returns the number of locations it placed.
//
// Placement only guarantees the auto-placed points are distinct from each
// other; they may coincide with a location positioned by hand.
func (s *Service) AutoLayout(ctx context.Context, campaignID string) (placed int, err error) {
	ctx, span := observe.StartSpan(ctx, "world.AutoLayout")
	defer func() {
		if placed > 0 {
			s.metrics.LayoutPositioned.Add(ctx, int64(placed))
		}
		observe.EndSpan(span, err)
	}()

	if err := s.authorize(ctx, campaignID, ActionEditMap); err != nil {
		return 0, err
	}

	locs, err := docstore.CampaignLocations(ctx, s.store, campaignID)
	if err != nil {
		return 0, fmt.Errorf("world: auto-layout %s: %w", campaignID, err)
	}
	var pending []*docstore.Location
	for _, l := range locs {
		if !l.Positioned() {
			pending = append(pending, l)
		}
	}

	points := GridPositions(len(pending), *s.layout.Load())
	for i, l := range pending {
		p := points[i]
		if err := s.store.Patch(ctx, l.ID, docstore.LocationPatch{MapX: &p.X, MapY: &p.Y}); err != nil {
			return placed, fmt.Errorf("world: auto-layout %s: %w", l.ID, err)
		}
		placed++
	}
	return placed, nil
}
