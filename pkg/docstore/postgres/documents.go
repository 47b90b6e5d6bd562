package postgres

import (
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// columns lists the selected columns per collection. Order must match
// scanDocument.
var columns = map[docstore.Collection]string{
	docstore.CollectionLocations: `id, campaign_id, name, type, description, environment,
		map_x, map_y, map_icon, embedding, neighbors, created_at`,
	docstore.CollectionPlayerStates: `id, campaign_id, player_id, current_location_id`,
	docstore.CollectionShops:        `id, campaign_id, location_id, name`,
	docstore.CollectionMemories: `id, campaign_id, content, type, embedding, importance,
		related_id, metadata, created_at`,
}

var (
	selectColumns = make(map[docstore.Collection]string, len(columns))
	selectByID    = make(map[docstore.Collection]string, len(columns))
)

func init() {
	for c, cols := range columns {
		selectColumns[c] = fmt.Sprintf("SELECT %s FROM %s", cols, c)
		selectByID[c] = selectColumns[c] + " WHERE id = $1"
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one row of collection c. extra receives any trailing
// columns (e.g. a similarity score).
func scanDocument(c docstore.Collection, row scanner, extra ...any) (docstore.Document, error) {
	switch c {
	case docstore.CollectionLocations:
		var (
			l   docstore.Location
			vec *pgvector.Vector
		)
		dest := append([]any{
			&l.ID, &l.CampaignID, &l.Name, &l.Type, &l.Description, &l.Environment,
			&l.MapX, &l.MapY, &l.MapIcon, &vec, &l.Neighbors, &l.CreatedAt,
		}, extra...)
		if err := row.Scan(dest...); err != nil {
			return nil, err
		}
		if vec != nil {
			l.Embedding = vec.Slice()
		}
		if l.Neighbors == nil {
			l.Neighbors = []string{}
		}
		return &l, nil

	case docstore.CollectionPlayerStates:
		var p docstore.PlayerState
		dest := append([]any{&p.ID, &p.CampaignID, &p.PlayerID, &p.CurrentLocationID}, extra...)
		if err := row.Scan(dest...); err != nil {
			return nil, err
		}
		return &p, nil

	case docstore.CollectionShops:
		var s docstore.Shop
		dest := append([]any{&s.ID, &s.CampaignID, &s.LocationID, &s.Name}, extra...)
		if err := row.Scan(dest...); err != nil {
			return nil, err
		}
		return &s, nil

	case docstore.CollectionMemories:
		var (
			m   docstore.Memory
			vec pgvector.Vector
		)
		dest := append([]any{
			&m.ID, &m.CampaignID, &m.Content, &m.Type, &vec, &m.Importance,
			&m.RelatedID, &m.Metadata, &m.CreatedAt,
		}, extra...)
		if err := row.Scan(dest...); err != nil {
			return nil, err
		}
		m.Embedding = vec.Slice()
		return &m, nil
	}
	return nil, fmt.Errorf("%w: %q", docstore.ErrUnsupportedCollection, c)
}

// insertStatement builds the INSERT for doc. created_at defaults to now()
// when the document carries a zero time.
func insertStatement(doc docstore.Document) (string, []any) {
	switch d := doc.(type) {
	case *docstore.Location:
		neighbors := d.Neighbors
		if neighbors == nil {
			neighbors = []string{}
		}
		return `
			INSERT INTO locations
			    (id, campaign_id, name, type, description, environment,
			     map_x, map_y, map_icon, embedding, neighbors, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))`,
			[]any{
				d.ID, d.CampaignID, d.Name, d.Type, d.Description, d.Environment,
				d.MapX, d.MapY, d.MapIcon, optionalVector(d.Embedding), neighbors, optionalTime(d.CreatedAt),
			}

	case *docstore.PlayerState:
		return `
			INSERT INTO player_states (id, campaign_id, player_id, current_location_id)
			VALUES ($1, $2, $3, $4)`,
			[]any{d.ID, d.CampaignID, d.PlayerID, d.CurrentLocationID}

	case *docstore.Shop:
		return `
			INSERT INTO shops (id, campaign_id, location_id, name)
			VALUES ($1, $2, $3, $4)`,
			[]any{d.ID, d.CampaignID, d.LocationID, d.Name}

	case *docstore.Memory:
		return `
			INSERT INTO memories
			    (id, campaign_id, content, type, embedding, importance,
			     related_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))`,
			[]any{
				d.ID, d.CampaignID, d.Content, d.Type, pgvector.NewVector(d.Embedding), d.Importance,
				d.RelatedID, d.Metadata, optionalTime(d.CreatedAt),
			}
	}
	panic(fmt.Sprintf("postgres store: unhandled document variant %T", doc))
}

// updateStatement builds the UPDATE for p. It returns an empty statement
// when the patch sets nothing.
func updateStatement(id string, p docstore.Patch) (string, []any) {
	args := []any{id} // $1 = id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sets []string
	switch pp := p.(type) {
	case docstore.LocationPatch:
		if pp.Neighbors != nil {
			n := *pp.Neighbors
			if n == nil {
				n = []string{}
			}
			sets = append(sets, "neighbors = "+next(n))
		}
		if pp.MapX != nil {
			sets = append(sets, "map_x = "+next(*pp.MapX))
		}
		if pp.MapY != nil {
			sets = append(sets, "map_y = "+next(*pp.MapY))
		}
		if pp.MapIcon != nil {
			sets = append(sets, "map_icon = "+next(*pp.MapIcon))
		}
		if pp.Embedding != nil {
			sets = append(sets, "embedding = "+next(optionalVector(*pp.Embedding)))
		}
	case docstore.PlayerPatch:
		if pp.CurrentLocationID != nil {
			sets = append(sets, "current_location_id = "+next(*pp.CurrentLocationID))
		}
	}
	if len(sets) == 0 {
		return "", nil
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", p.Target(), strings.Join(sets, ", ")), args
}

func optionalVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
