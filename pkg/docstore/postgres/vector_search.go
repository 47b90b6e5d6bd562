package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// VectorSearch implements [docstore.Store]. The campaign and type filters
// are part of the WHERE clause, so the HNSW scan never returns rows from
// another campaign. Score is 1 - cosine distance.
func (s *Store) VectorSearch(ctx context.Context, c docstore.Collection, vec []float32, k int, filter docstore.Filter) ([]docstore.ScoredDocument, error) {
	if !c.Searchable() {
		return nil, fmt.Errorf("%w: %q has no vector index", docstore.ErrUnsupportedCollection, c)
	}
	if k <= 0 {
		return []docstore.ScoredDocument{}, nil
	}

	args := []any{pgvector.NewVector(vec)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if filter.CampaignID != "" {
		conditions = append(conditions, "campaign_id = "+next(filter.CampaignID))
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = "+next(filter.Type))
	}
	limitArg := next(k)

	q := fmt.Sprintf(`
		SELECT %s,
		       1 - (embedding <=> $1) AS score
		FROM   %s
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, columns[c], c, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: vector search %s: %w", c, err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.ScoredDocument, error) {
		var score float64
		doc, err := scanDocument(c, row, &score)
		if err != nil {
			return docstore.ScoredDocument{}, err
		}
		return docstore.ScoredDocument{Document: doc, Score: score}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan %s: %w", c, err)
	}
	if results == nil {
		results = []docstore.ScoredDocument{}
	}
	return results, nil
}
