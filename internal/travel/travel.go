// Package travel decides whether a player may move between two locations
// and commits the move to the player's state.
//
// A travel request moves through Requested, then Validated or Rejected, and
// finally Committed. Adjacency is always re-read from the store at commit
// time; an earlier [Validator.CanTravelTo] result is never trusted.
package travel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/realmkeeper/internal/observe"
	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

var (
	// ErrNotFound is returned when a location is missing or belongs to
	// another campaign.
	ErrNotFound = docstore.ErrNotFound

	// ErrIllegalMove is returned when the destination is not a neighbor of
	// the source.
	ErrIllegalMove = errors.New("travel: destination is not adjacent")
)

// Reason classifies a rejected travel check.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonWrongCampaign Reason = "wrong_campaign"
	ReasonNotAdjacent   Reason = "not_adjacent"
)

// Destination is the snapshot of a reachable location shown before a move
// is confirmed.
type Destination struct {
	ID          string
	Name        string
	Type        string
	Description string
}

// Check is the outcome of [Validator.CanTravelTo]. Rejections are values,
// not errors.
type Check struct {
	CanTravel   bool
	Reason      Reason
	Message     string
	Destination *Destination
}

// Result is the outcome of a committed move.
type Result struct {
	From Destination
	To   Destination

	// PositionUpdated is false when the player has no state record in the
	// campaign yet; the move is still legal but nothing was written.
	PositionUpdated bool
}

// MoveError describes a rejected move. It matches [ErrNotFound] or
// [ErrIllegalMove] under errors.Is.
type MoveError struct {
	Reason  Reason
	FromID  string
	ToID    string
	Message string
}

func (e *MoveError) Error() string {
	return "travel: " + e.Message
}

func (e *MoveError) Unwrap() error {
	if e.Reason == ReasonNotAdjacent {
		return ErrIllegalMove
	}
	return ErrNotFound
}

// Validator implements the travel rules on top of a document store.
// It holds no per-request state and is safe for concurrent use.
type Validator struct {
	store   docstore.Store
	metrics *observe.Metrics
}

// New creates a Validator. A nil metrics argument uses
// [observe.DefaultMetrics].
func New(store docstore.Store, metrics *observe.Metrics) *Validator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Validator{store: store, metrics: metrics}
}

// CanTravelTo reports whether toID is reachable from fromID in one move
// within campaignID. It never writes. Only store failures are returned as
// errors.
func (v *Validator) CanTravelTo(ctx context.Context, campaignID, fromID, toID string) (_ Check, err error) {
	ctx, span := observe.StartSpan(ctx, "travel.CanTravelTo")
	defer func() { observe.EndSpan(span, err) }()

	_, to, rej, err := v.validate(ctx, campaignID, fromID, toID)
	if err != nil {
		v.metrics.RecordTravel(ctx, "check", observe.OutcomeError)
		return Check{}, err
	}
	if rej != nil {
		v.metrics.RecordTravel(ctx, "check", observe.OutcomeRejected)
		observe.Logger(ctx).Debug("travel: check rejected",
			"campaign_id", campaignID, "from", fromID, "to", toID, "reason", rej.Reason)
		return Check{Reason: rej.Reason, Message: rej.Message}, nil
	}
	v.metrics.RecordTravel(ctx, "check", observe.OutcomeCommitted)
	dest := snapshot(to)
	return Check{CanTravel: true, Destination: &dest}, nil
}

// TravelToLocation re-validates the move and, when legal, points the
// player's current location at toID. A player without a state record in the
// campaign is not an error: the result reports PositionUpdated == false.
func (v *Validator) TravelToLocation(ctx context.Context, campaignID, playerID, fromID, toID string) (_ Result, err error) {
	ctx, span := observe.StartSpan(ctx, "travel.TravelToLocation")
	defer func() { observe.EndSpan(span, err) }()

	outcome := observe.OutcomeError
	defer func() { v.metrics.RecordTravel(ctx, "move", outcome) }()

	from, to, rej, err := v.validate(ctx, campaignID, fromID, toID)
	if err != nil {
		return Result{}, err
	}
	if rej != nil {
		outcome = observe.OutcomeRejected
		observe.Logger(ctx).Debug("travel: move rejected",
			"campaign_id", campaignID, "player_id", playerID, "from", fromID, "to", toID, "reason", rej.Reason)
		return Result{}, rej
	}

	res := Result{From: snapshot(from), To: snapshot(to)}
	state, err := docstore.FindPlayerState(ctx, v.store, campaignID, playerID)
	if err != nil {
		return Result{}, fmt.Errorf("travel: load player %s: %w", playerID, err)
	}
	if state != nil {
		if err := v.store.Patch(ctx, state.ID, docstore.PlayerPatch{CurrentLocationID: &toID}); err != nil {
			return Result{}, fmt.Errorf("travel: move player %s: %w", playerID, err)
		}
		res.PositionUpdated = true
	}
	outcome = observe.OutcomeCommitted
	return res, nil
}

// validate resolves both locations and checks campaign and adjacency. A
// non-nil *MoveError is an expected rejection; a non-nil error is a store
// failure.
func (v *Validator) validate(ctx context.Context, campaignID, fromID, toID string) (from, to *docstore.Location, rej *MoveError, err error) {
	from, err = v.load(ctx, fromID)
	if err != nil {
		return nil, nil, nil, err
	}
	to, err = v.load(ctx, toID)
	if err != nil {
		return nil, nil, nil, err
	}

	switch {
	case from == nil || to == nil:
		return nil, nil, &MoveError{Reason: ReasonNotFound, FromID: fromID, ToID: toID, Message: "location not found"}, nil
	case from.CampaignID != campaignID || to.CampaignID != campaignID:
		return nil, nil, &MoveError{Reason: ReasonWrongCampaign, FromID: fromID, ToID: toID, Message: "location not in this campaign"}, nil
	case !from.HasNeighbor(toID):
		return nil, nil, &MoveError{
			Reason:  ReasonNotAdjacent,
			FromID:  fromID,
			ToID:    toID,
			Message: fmt.Sprintf("%s is not directly connected to %s", to.Name, from.Name),
		}, nil
	}
	return from, to, nil, nil
}

// load returns (nil, nil) when id does not resolve to a location.
func (v *Validator) load(ctx context.Context, id string) (*docstore.Location, error) {
	loc, err := docstore.GetLocation(ctx, v.store, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("travel: load location %s: %w", id, err)
	}
	return loc, nil
}

func snapshot(l *docstore.Location) Destination {
	return Destination{ID: l.ID, Name: l.Name, Type: l.Type, Description: l.Description}
}
