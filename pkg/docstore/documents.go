package docstore

import (
	"maps"
	"slices"
	"time"
)

// Document is the closed set of records held by a [Store]. The unexported
// marker method prevents variants from being declared outside this package.
type Document interface {
	// Collection reports the collection the document belongs to.
	Collection() Collection

	// DocID returns the document's id (empty before insertion).
	DocID() string

	// SetID assigns the document id. Backends call it on insert.
	SetID(id string)

	// Campaign returns the campaign the document is scoped to.
	Campaign() string

	// IndexValue returns the value of an indexed field and whether the field
	// exists on this variant.
	IndexValue(f Field) (string, bool)

	// Clone returns a deep copy so callers never share mutable state with a
	// backend.
	Clone() Document

	isDocument()
}

// Location is a place in a campaign's world graph.
type Location struct {
	ID          string
	CampaignID  string
	Name        string
	Type        string
	Description string

	// Environment is an optional free-text account of what the area consists
	// of (e.g. "dense foliage, rocky path").
	Environment string

	// MapX and MapY are display-only grid coordinates. A location missing
	// either one is considered unpositioned.
	MapX *int
	MapY *int

	MapIcon *string

	// Embedding is optional; when set its length is [EmbeddingDimensions].
	Embedding []float32

	// Neighbors holds the ids of locations reachable in one move. Edges are
	// undirected: every neighbor lists this location back.
	Neighbors []string

	CreatedAt time.Time
}

// Positioned reports whether both map coordinates are set.
func (l *Location) Positioned() bool { return l.MapX != nil && l.MapY != nil }

// HasNeighbor reports whether id is in the neighbor set.
func (l *Location) HasNeighbor(id string) bool { return slices.Contains(l.Neighbors, id) }

func (l *Location) Collection() Collection { return CollectionLocations }
func (l *Location) DocID() string          { return l.ID }
func (l *Location) SetID(id string)        { l.ID = id }
func (l *Location) Campaign() string       { return l.CampaignID }
func (l *Location) isDocument()            {}

func (l *Location) IndexValue(f Field) (string, bool) {
	if f == FieldCampaignID {
		return l.CampaignID, true
	}
	return "", false
}

func (l *Location) Clone() Document {
	c := *l
	c.MapX = clonePtr(l.MapX)
	c.MapY = clonePtr(l.MapY)
	c.MapIcon = clonePtr(l.MapIcon)
	c.Embedding = slices.Clone(l.Embedding)
	c.Neighbors = slices.Clone(l.Neighbors)
	return &c
}

// PlayerState is the slice of a player's per-campaign game state the core
// mutates: the location the player currently stands in.
type PlayerState struct {
	ID                string
	CampaignID        string
	PlayerID          string
	CurrentLocationID string
}

func (p *PlayerState) Collection() Collection { return CollectionPlayerStates }
func (p *PlayerState) DocID() string          { return p.ID }
func (p *PlayerState) SetID(id string)        { p.ID = id }
func (p *PlayerState) Campaign() string       { return p.CampaignID }
func (p *PlayerState) isDocument()            {}

func (p *PlayerState) IndexValue(f Field) (string, bool) {
	switch f {
	case FieldCampaignID:
		return p.CampaignID, true
	case FieldPlayerID:
		return p.PlayerID, true
	}
	return "", false
}

func (p *PlayerState) Clone() Document {
	c := *p
	return &c
}

// Shop is a merchant attached to a location. The core only counts shops per
// location for the world map.
type Shop struct {
	ID         string
	CampaignID string
	LocationID string
	Name       string
}

func (s *Shop) Collection() Collection { return CollectionShops }
func (s *Shop) DocID() string          { return s.ID }
func (s *Shop) SetID(id string)        { s.ID = id }
func (s *Shop) Campaign() string       { return s.CampaignID }
func (s *Shop) isDocument()            {}

func (s *Shop) IndexValue(f Field) (string, bool) {
	switch f {
	case FieldCampaignID:
		return s.CampaignID, true
	case FieldLocationID:
		return s.LocationID, true
	}
	return "", false
}

func (s *Shop) Clone() Document {
	c := *s
	return &c
}

// Memory is an append-only narrative fact with its embedding.
type Memory struct {
	ID         string
	CampaignID string
	Content    string

	// Type tags the memory: summary, fact, event, character,
	// conversation_chunk, or any custom value.
	Type string

	// Embedding always has length [EmbeddingDimensions].
	Embedding []float32

	// Importance is a salience score in [1, 10]; nil when unassigned.
	Importance *float64

	// RelatedID weakly references a quest, NPC or location. It is never
	// dereferenced by the core.
	RelatedID string

	// Metadata is an opaque payload carried for the narration pipeline.
	Metadata map[string]any

	CreatedAt time.Time
}

func (m *Memory) Collection() Collection { return CollectionMemories }
func (m *Memory) DocID() string          { return m.ID }
func (m *Memory) SetID(id string)        { m.ID = id }
func (m *Memory) Campaign() string       { return m.CampaignID }
func (m *Memory) isDocument()            {}

func (m *Memory) IndexValue(f Field) (string, bool) {
	if f == FieldCampaignID {
		return m.CampaignID, true
	}
	return "", false
}

func (m *Memory) Clone() Document {
	c := *m
	c.Embedding = slices.Clone(m.Embedding)
	c.Importance = clonePtr(m.Importance)
	c.Metadata = maps.Clone(m.Metadata)
	return &c
}

// TypeTag returns the free-form Type of locations and memories, which is what
// [Filter.Type] matches against. Other variants have no type tag.
func TypeTag(doc Document) string {
	switch d := doc.(type) {
	case *Location:
		return d.Type
	case *Memory:
		return d.Type
	}
	return ""
}

// EmbeddingOf returns the embedding carried by searchable variants.
func EmbeddingOf(doc Document) []float32 {
	switch d := doc.(type) {
	case *Location:
		return d.Embedding
	case *Memory:
		return d.Embedding
	}
	return nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
