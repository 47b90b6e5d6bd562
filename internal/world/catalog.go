package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// MapData returns every location of a campaign, in insertion order, with its
// shop count computed at read time.
func (s *Service) MapData(ctx context.Context, campaignID string) (_ []MapLocation, err error) {
	ctx, span := observe.StartSpan(ctx, "world.MapData")
	defer func() { observe.EndSpan(span, err) }()

	locs, err := docstore.CampaignLocations(ctx, s.store, campaignID)
	if err != nil {
		return nil, fmt.Errorf("world: map data for %s: %w", campaignID, err)
	}

	out := make([]MapLocation, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.shopConcurrency)
	for i, loc := range locs {
		g.Go(func() error {
			shops, err := docstore.LocationShops(gctx, s.store, loc.ID)
			if err != nil {
				return fmt.Errorf("world: shops of %s: %w", loc.ID, err)
			}
			// Shops are keyed by location id only; ignore strays from other
			// campaigns.
			n := 0
			for _, sh := range shops {
				if sh.CampaignID == campaignID {
					n++
				}
			}
			out[i] = MapLocation{Location: *loc, ShopCount: n, HasShops: n > 0}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddLocation validates and stores a new location, then connects it to every
// id listed in loc.Neighbors. The insert and the edges commit together on
// transactional backends. It returns the new id.
func (s *Service) AddLocation(ctx context.Context, loc docstore.Location) (_ string, err error) {
	ctx, span := observe.StartSpan(ctx, "world.AddLocation")
	defer func() { observe.EndSpan(span, err) }()

	if err := validateLocation(loc); err != nil {
		return "", err
	}
	if err := s.authorize(ctx, loc.CampaignID, ActionAuthor); err != nil {
		return "", err
	}

	neighbors := dedupe(loc.Neighbors)
	if loc.ID != "" && slices.Contains(neighbors, loc.ID) {
		return "", fmt.Errorf("world: add %q: %w", loc.Name, ErrSelfEdge)
	}
	loc.Neighbors = []string{}

	var id string
	err = s.withinTx(ctx, func(tx docstore.Store) error {
		var err error
		id, err = tx.Insert(ctx, &loc)
		if err != nil {
			return fmt.Errorf("world: add %q: %w", loc.Name, err)
		}
		for _, n := range neighbors {
			if err := s.connect(ctx, tx, id, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteLocation removes a location after stripping its id from every
// neighbor's list and deleting the shops attached to it. Player states that
// still reference the location are left to the caller.
func (s *Service) DeleteLocation(ctx context.Context, id string) (err error) {
	ctx, span := observe.StartSpan(ctx, "world.DeleteLocation")
	defer func() { observe.EndSpan(span, err) }()

	return s.withinTx(ctx, func(tx docstore.Store) error {
		loc, err := docstore.GetLocation(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("world: delete %s: %w", id, err)
		}
		if err := s.authorize(ctx, loc.CampaignID, ActionAuthor); err != nil {
			return err
		}

		for _, nid := range loc.Neighbors {
			n, err := docstore.GetLocation(ctx, tx, nid)
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("world: delete %s: %w", id, err)
			}
			if n.HasNeighbor(id) {
				if err := patchNeighbors(ctx, tx, n, without(n.Neighbors, id)); err != nil {
					return err
				}
			}
		}

		shops, err := docstore.LocationShops(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("world: delete %s: %w", id, err)
		}
		for _, sh := range shops {
			if err := tx.Delete(ctx, sh.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("world: delete shop %s: %w", sh.ID, err)
			}
		}

		if err := tx.Delete(ctx, id); err != nil {
			return fmt.Errorf("world: delete %s: %w", id, err)
		}
		return nil
	})
}

func validateLocation(loc docstore.Location) error {
	var errs []error
	if strings.TrimSpace(loc.CampaignID) == "" {
		errs = append(errs, errors.New("campaign id is required"))
	}
	if strings.TrimSpace(loc.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(loc.Embedding) > 0 {
		if err := docstore.CheckDimensions(loc.Embedding, docstore.EmbeddingDimensions); err != nil {
			errs = append(errs, fmt.Errorf("embedding: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	return nil
}

// dedupe drops empty and repeated ids, keeping first-seen order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
