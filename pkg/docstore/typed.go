package docstore

import (
	"context"
	"fmt"
)

// GetLocation resolves id to a [*Location]. An id that resolves to another
// variant is reported as [ErrNotFound].
func GetLocation(ctx context.Context, s Store, id string) (*Location, error) {
	return getAs[*Location](ctx, s, id)
}

// GetMemory resolves id to a [*Memory].
func GetMemory(ctx context.Context, s Store, id string) (*Memory, error) {
	return getAs[*Memory](ctx, s, id)
}

// GetPlayerState resolves id to a [*PlayerState].
func GetPlayerState(ctx context.Context, s Store, id string) (*PlayerState, error) {
	return getAs[*PlayerState](ctx, s, id)
}

func getAs[T Document](ctx context.Context, s Store, id string) (T, error) {
	var zero T
	doc, err := s.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	v, ok := doc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is a %s document", ErrNotFound, id, doc.Collection())
	}
	return v, nil
}

// CampaignLocations returns every location of a campaign in insertion order.
func CampaignLocations(ctx context.Context, s Store, campaignID string) ([]*Location, error) {
	return queryAs[*Location](ctx, s, CollectionLocations, FieldCampaignID, campaignID)
}

// LocationShops returns the shops attached to a location.
func LocationShops(ctx context.Context, s Store, locationID string) ([]*Shop, error) {
	return queryAs[*Shop](ctx, s, CollectionShops, FieldLocationID, locationID)
}

// FindPlayerState returns the state record for (campaignID, playerID), or
// (nil, nil) when the player has not been initialised in that campaign.
func FindPlayerState(ctx context.Context, s Store, campaignID, playerID string) (*PlayerState, error) {
	states, err := queryAs[*PlayerState](ctx, s, CollectionPlayerStates, FieldPlayerID, playerID)
	if err != nil {
		return nil, err
	}
	for _, ps := range states {
		if ps.CampaignID == campaignID {
			return ps, nil
		}
	}
	return nil, nil
}

func queryAs[T Document](ctx context.Context, s Store, c Collection, f Field, value string) ([]T, error) {
	docs, err := s.QueryByIndex(ctx, c, f, value)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		if v, ok := d.(T); ok {
			out = append(out, v)
		}
	}
	return out, nil
}
