// Package world owns the campaign world graph: locations and the undirected
// travel edges between them.
//
// Every edge is stored twice, once in each endpoint's neighbor list. The
// [Service] keeps the two lists symmetric, rejects self edges and edges that
// would cross campaigns, and tolerates dangling ids left behind by deleted
// locations when reading.
//
// Connect and Disconnect touch two documents. When the backing store
// implements [docstore.Transactor] both patches commit together. Otherwise
// they are issued back-to-back and a concurrent reader may briefly observe a
// one-directional edge between the two writes.
package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

var (
	// ErrNotFound is returned when an id does not resolve to a location.
	ErrNotFound = docstore.ErrNotFound

	// ErrSelfEdge is returned when connecting a location to itself.
	ErrSelfEdge = errors.New("world: a location cannot neighbor itself")

	// ErrCrossCampaign is returned when connecting locations of different
	// campaigns.
	ErrCrossCampaign = errors.New("world: locations belong to different campaigns")

	// ErrUnauthorized is returned when the configured [Authorizer] denies a
	// mutation.
	ErrUnauthorized = errors.New("world: unauthorized")

	// ErrInvalidLocation is returned by AddLocation for malformed input.
	ErrInvalidLocation = errors.New("world: invalid location")
)

// Action names a class of mutation for authorization.
type Action string

const (
	ActionEditGraph Action = "edit_graph" // connect, disconnect
	ActionEditMap   Action = "edit_map"   // position, icon, auto-layout
	ActionAuthor    Action = "author"     // add, delete
)

// Authorizer decides whether the caller in ctx may perform action on a
// campaign. It is a second line of defence: the application layer is
// expected to have authorized the caller already.
type Authorizer interface {
	Check(ctx context.Context, campaignID string, action Action) bool
}

// MapLocation is a location enriched with its shop aggregate.
type MapLocation struct {
	docstore.Location

	ShopCount int
	HasShops  bool
}

// NeighborSummary is the lightweight view of a neighboring location.
type NeighborSummary struct {
	ID   string
	Name string
	Type string
}

// Option configures a [Service].
type Option func(*Service)

// WithAuthorizer installs an authorization hook for mutations.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) { s.auth = a }
}

// WithLayout overrides the auto-layout grid parameters.
func WithLayout(cfg LayoutConfig) Option {
	return func(s *Service) { s.SetLayout(cfg) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithShopConcurrency bounds the number of concurrent shop lookups issued
// by MapData. Values below 1 are ignored.
func WithShopConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shopConcurrency = n
		}
	}
}

// Service implements the world graph operations on top of a document store.
// It holds no state across calls beyond its configuration and is safe for
// concurrent use.
type Service struct {
	store           docstore.Store
	auth            Authorizer
	layout          atomic.Pointer[LayoutConfig]
	metrics         *observe.Metrics
	shopConcurrency int
}

// NewService creates a Service backed by store.
func NewService(store docstore.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		shopConcurrency: 8,
	}
	s.SetLayout(DefaultLayout())
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetLayout replaces the auto-layout grid parameters. It is safe to call
// while AutoLayout runs; the next call picks up the new values.
func (s *Service) SetLayout(cfg LayoutConfig) {
	cfg = cfg.withDefaults()
	s.layout.Store(&cfg)
}

// Store returns the underlying document store.
func (s *Service) Store() docstore.Store { return s.store }

func (s *Service) authorize(ctx context.Context, campaignID string, action Action) error {
	if s.auth == nil || s.auth.Check(ctx, campaignID, action) {
		return nil
	}
	return fmt.Errorf("%w: %s on campaign %s", ErrUnauthorized, action, campaignID)
}

// withinTx runs fn in a transaction when the store supports one.
func (s *Service) withinTx(ctx context.Context, fn func(tx docstore.Store) error) error {
	if tx, ok := s.store.(docstore.Transactor); ok {
		return tx.WithinTx(ctx, fn)
	}
	return fn(s.store)
}

// Connect adds a and b to each other's neighbor lists. Calling it on an
// existing edge is a no-op.
func (s *Service) Connect(ctx context.Context, a, b string) (err error) {
	ctx, span := observe.StartSpan(ctx, "world.Connect")
	defer func() {
		s.metrics.RecordEdgeOp(ctx, "connect", err)
		observe.EndSpan(span, err)
	}()

	if a == b {
		return fmt.Errorf("world: connect %s: %w", a, ErrSelfEdge)
	}
	return s.withinTx(ctx, func(tx docstore.Store) error {
		return s.connect(ctx, tx, a, b)
	})
}

func (s *Service) connect(ctx context.Context, st docstore.Store, a, b string) error {
	la, lb, err := loadPair(ctx, st, a, b)
	if err != nil {
		return err
	}
	if la.CampaignID != lb.CampaignID {
		return fmt.Errorf("world: connect %s-%s: %w", a, b, ErrCrossCampaign)
	}
	if err := s.authorize(ctx, la.CampaignID, ActionEditGraph); err != nil {
		return err
	}

	// Both patches are issued without intervening work.
	if !la.HasNeighbor(b) {
		if err := patchNeighbors(ctx, st, la, append(slices.Clone(la.Neighbors), b)); err != nil {
			return err
		}
	}
	if !lb.HasNeighbor(a) {
		if err := patchNeighbors(ctx, st, lb, append(slices.Clone(lb.Neighbors), a)); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect removes a and b from each other's neighbor lists. Calling it
// when no edge exists is a no-op.
func (s *Service) Disconnect(ctx context.Context, a, b string) (err error) {
	ctx, span := observe.StartSpan(ctx, "world.Disconnect")
	defer func() {
		s.metrics.RecordEdgeOp(ctx, "disconnect", err)
		observe.EndSpan(span, err)
	}()

	return s.withinTx(ctx, func(tx docstore.Store) error {
		la, lb, err := loadPair(ctx, tx, a, b)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, la.CampaignID, ActionEditGraph); err != nil {
			return err
		}
		if la.HasNeighbor(b) {
			if err := patchNeighbors(ctx, tx, la, without(la.Neighbors, b)); err != nil {
				return err
			}
		}
		if lb.HasNeighbor(a) {
			if err := patchNeighbors(ctx, tx, lb, without(lb.Neighbors, a)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Neighbors resolves the neighbor list of locationID into summaries. Ids
// that no longer resolve, or that point into another campaign, are skipped.
// A missing source location yields an empty list.
func (s *Service) Neighbors(ctx context.Context, locationID string) ([]NeighborSummary, error) {
	ctx, span := observe.StartSpan(ctx, "world.Neighbors")
	defer span.End()

	out := []NeighborSummary{}
	loc, err := docstore.GetLocation(ctx, s.store, locationID)
	if errors.Is(err, docstore.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("world: neighbors of %s: %w", locationID, err)
	}

	for _, id := range loc.Neighbors {
		n, err := docstore.GetLocation(ctx, s.store, id)
		if errors.Is(err, docstore.ErrNotFound) {
			observe.Logger(ctx).Warn("world: dangling neighbor edge",
				"location_id", locationID, "neighbor_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("world: neighbors of %s: %w", locationID, err)
		}
		if n.CampaignID != loc.CampaignID {
			observe.Logger(ctx).Warn("world: cross-campaign neighbor edge",
				"location_id", locationID, "neighbor_id", id)
			continue
		}
		out = append(out, NeighborSummary{ID: n.ID, Name: n.Name, Type: n.Type})
	}
	return out, nil
}

// SetPosition sets the map coordinates of a location.
func (s *Service) SetPosition(ctx context.Context, locationID string, x, y int) error {
	return s.patchMap(ctx, locationID, docstore.LocationPatch{MapX: &x, MapY: &y})
}

// SetIcon sets the map icon of a location.
func (s *Service) SetIcon(ctx context.Context, locationID, icon string) error {
	return s.patchMap(ctx, locationID, docstore.LocationPatch{MapIcon: &icon})
}

func (s *Service) patchMap(ctx context.Context, locationID string, p docstore.LocationPatch) error {
	loc, err := docstore.GetLocation(ctx, s.store, locationID)
	if err != nil {
		return fmt.Errorf("world: update %s: %w", locationID, err)
	}
	if err := s.authorize(ctx, loc.CampaignID, ActionEditMap); err != nil {
		return err
	}
	if err := s.store.Patch(ctx, locationID, p); err != nil {
		return fmt.Errorf("world: update %s: %w", locationID, err)
	}
	return nil
}

// loadPair resolves both ids to locations.
func loadPair(ctx context.Context, st docstore.Store, a, b string) (*docstore.Location, *docstore.Location, error) {
	la, err := docstore.GetLocation(ctx, st, a)
	if err != nil {
		return nil, nil, fmt.Errorf("world: location %s: %w", a, err)
	}
	lb, err := docstore.GetLocation(ctx, st, b)
	if err != nil {
		return nil, nil, fmt.Errorf("world: location %s: %w", b, err)
	}
	return la, lb, nil
}

func patchNeighbors(ctx context.Context, st docstore.Store, loc *docstore.Location, neighbors []string) error {
	if err := st.Patch(ctx, loc.ID, docstore.LocationPatch{Neighbors: &neighbors}); err != nil {
		return fmt.Errorf("world: patch neighbors of %s: %w", loc.ID, err)
	}
	return nil
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
}
