package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/realmkeeper/internal/travel"
	"github.com/MrWong99/realmkeeper/internal/world/placename"
)

// LocationView is the narrator-facing view of a map location.
type LocationView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Neighbors   []string `json:"neighbors"`
	X           *int     `json:"x,omitempty"`
	Y           *int     `json:"y,omitempty"`
	Icon        *string  `json:"icon,omitempty"`
	ShopCount   int      `json:"shop_count"`
}

// MapDataInput is the input of the map_data tool.
type MapDataInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"campaign whose map is returned"`
}

// MapDataOutput is the output of the map_data tool.
type MapDataOutput struct {
	Locations []LocationView `json:"locations"`
}

// NeighborsInput is the input of the neighbors tool.
type NeighborsInput struct {
	LocationID string `json:"location_id" jsonschema:"location whose neighbors are listed"`
}

// NeighborView is one reachable location.
type NeighborView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// NeighborsOutput is the output of the neighbors tool.
type NeighborsOutput struct {
	Neighbors []NeighborView `json:"neighbors"`
}

// CanTravelInput is the input of the can_travel tool.
type CanTravelInput struct {
	CampaignID string `json:"campaign_id"`
	FromID     string `json:"from_id" jsonschema:"the player's current location"`
	ToID       string `json:"to_id" jsonschema:"the requested destination"`
}

// CanTravelOutput is the output of the can_travel tool.
type CanTravelOutput struct {
	CanTravel   bool   `json:"can_travel"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// TravelInput is the input of the travel tool. Exactly one of ToID and
// Destination must be set.
type TravelInput struct {
	CampaignID  string `json:"campaign_id"`
	PlayerID    string `json:"player_id"`
	FromID      string `json:"from_id" jsonschema:"the player's current location"`
	ToID        string `json:"to_id,omitempty" jsonschema:"destination id, when known"`
	Destination string `json:"destination,omitempty" jsonschema:"destination name as spoken by the player, resolved among the neighbors"`
}

// TravelOutput is the output of the travel tool.
type TravelOutput struct {
	FromID          string `json:"from_id"`
	ToID            string `json:"to_id"`
	ToName          string `json:"to_name"`
	PositionUpdated bool   `json:"position_updated"`
}

// AutoLayoutInput is the input of the auto_layout tool.
type AutoLayoutInput struct {
	CampaignID string `json:"campaign_id"`
}

// AutoLayoutOutput is the output of the auto_layout tool.
type AutoLayoutOutput struct {
	Placed int `json:"placed"`
}

func (s *Server) registerWorldTools() {
	addTool(s, &mcp.Tool{
		Name:        "map_data",
		Description: "List every location of a campaign with its neighbors, map position and shop count.",
	}, s.mapData)
	addTool(s, &mcp.Tool{
		Name:        "neighbors",
		Description: "List the locations reachable in one move from a location.",
	}, s.neighbors)
	addTool(s, &mcp.Tool{
		Name:        "can_travel",
		Description: "Check whether a move between two locations is legal without performing it.",
	}, s.canTravel)
	addTool(s, &mcp.Tool{
		Name:        "travel",
		Description: "Move a player to an adjacent location, given by id or by name.",
	}, s.travel)
	addTool(s, &mcp.Tool{
		Name:        "auto_layout",
		Description: "Place every location without map coordinates on a grid.",
	}, s.autoLayout)
}

func (s *Server) mapData(ctx context.Context, in MapDataInput) (MapDataOutput, error) {
	locs, err := s.deps.World.MapData(ctx, in.CampaignID)
	if err != nil {
		return MapDataOutput{}, err
	}
	out := MapDataOutput{Locations: make([]LocationView, len(locs))}
	for i, l := range locs {
		out.Locations[i] = LocationView{
			ID:          l.ID,
			Name:        l.Name,
			Type:        l.Type,
			Description: l.Description,
			Neighbors:   l.Neighbors,
			X:           l.MapX,
			Y:           l.MapY,
			Icon:        l.MapIcon,
			ShopCount:   l.ShopCount,
		}
	}
	return out, nil
}

func (s *Server) neighbors(ctx context.Context, in NeighborsInput) (NeighborsOutput, error) {
	ns, err := s.deps.World.Neighbors(ctx, in.LocationID)
	if err != nil {
		return NeighborsOutput{}, err
	}
	out := NeighborsOutput{Neighbors: make([]NeighborView, len(ns))}
	for i, n := range ns {
		out.Neighbors[i] = NeighborView{ID: n.ID, Name: n.Name, Type: n.Type}
	}
	return out, nil
}

func (s *Server) canTravel(ctx context.Context, in CanTravelInput) (CanTravelOutput, error) {
	check, err := s.deps.Travel.CanTravelTo(ctx, in.CampaignID, in.FromID, in.ToID)
	if err != nil {
		return CanTravelOutput{}, err
	}
	out := CanTravelOutput{
		CanTravel: check.CanTravel,
		Reason:    string(check.Reason),
		Message:   check.Message,
	}
	if check.Destination != nil {
		out.Destination = check.Destination.Name
	}
	return out, nil
}

func (s *Server) travel(ctx context.Context, in TravelInput) (TravelOutput, error) {
	toID := in.ToID
	switch {
	case toID != "" && in.Destination != "":
		return TravelOutput{}, errors.New("set either to_id or destination, not both")
	case toID == "" && in.Destination == "":
		return TravelOutput{}, errors.New("to_id or destination is required")
	case toID == "":
		id, err := s.resolveDestination(ctx, in.FromID, in.Destination)
		if err != nil {
			return TravelOutput{}, err
		}
		toID = id
	}

	res, err := s.deps.Travel.TravelToLocation(ctx, in.CampaignID, in.PlayerID, in.FromID, toID)
	if err != nil {
		return TravelOutput{}, err
	}
	return TravelOutput{
		FromID:          res.From.ID,
		ToID:            res.To.ID,
		ToName:          res.To.Name,
		PositionUpdated: res.PositionUpdated,
	}, nil
}

// resolveDestination matches a spoken name against the neighbors of fromID.
// Only neighbors are candidates, so a resolved name is always adjacent.
func (s *Server) resolveDestination(ctx context.Context, fromID, name string) (string, error) {
	ns, err := s.deps.World.Neighbors(ctx, fromID)
	if err != nil {
		return "", err
	}
	places := make([]placename.Place, len(ns))
	for i, n := range ns {
		places[i] = placename.Place{ID: n.ID, Name: n.Name}
	}
	m, err := s.resolver.Resolve(name, places)
	if err != nil {
		return "", fmt.Errorf("destination %q: %w: %w", name, travel.ErrIllegalMove, err)
	}
	return m.Place.ID, nil
}

func (s *Server) autoLayout(ctx context.Context, in AutoLayoutInput) (AutoLayoutOutput, error) {
	n, err := s.deps.World.AutoLayout(ctx, in.CampaignID)
	if err != nil {
		return AutoLayoutOutput{}, err
	}
	return AutoLayoutOutput{Placed: n}, nil
}
