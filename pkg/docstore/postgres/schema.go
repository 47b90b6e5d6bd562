// Package postgres provides a PostgreSQL-backed implementation of
// [docstore.Store].
//
// Each document variant lives in its own table. Embeddings are stored in
// pgvector columns with HNSW cosine indexes, and vector queries apply the
// campaign/type filter in the same statement that orders by distance. The
// pgvector extension must be available; [Migrate] installs it via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// ─────────────────────────────────────────────────────────────────────────────
// World graph DDL
// ─────────────────────────────────────────────────────────────────────────────

// ddlWorld returns the world-graph DDL with the embedding dimension
// substituted. seq columns preserve insertion order for index queries.
func ddlWorld(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS locations (
    seq          BIGSERIAL    UNIQUE,
    id           TEXT         PRIMARY KEY,
    campaign_id  TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    type         TEXT         NOT NULL DEFAULT '',
    description  TEXT         NOT NULL DEFAULT '',
    environment  TEXT         NOT NULL DEFAULT '',
    map_x        INTEGER,
    map_y        INTEGER,
    map_icon     TEXT,
    embedding    vector(%d),
    neighbors    TEXT[]       NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_locations_campaign
    ON locations (campaign_id, seq);

CREATE INDEX IF NOT EXISTS idx_locations_embedding
    ON locations USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS player_states (
    seq                  BIGSERIAL  UNIQUE,
    id                   TEXT       PRIMARY KEY,
    campaign_id          TEXT       NOT NULL,
    player_id            TEXT       NOT NULL,
    current_location_id  TEXT       NOT NULL DEFAULT '',
    UNIQUE (campaign_id, player_id)
);

CREATE INDEX IF NOT EXISTS idx_player_states_player
    ON player_states (player_id, seq);

CREATE TABLE IF NOT EXISTS shops (
    seq          BIGSERIAL  UNIQUE,
    id           TEXT       PRIMARY KEY,
    campaign_id  TEXT       NOT NULL,
    location_id  TEXT       NOT NULL,
    name         TEXT       NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_shops_campaign
    ON shops (campaign_id, seq);

CREATE INDEX IF NOT EXISTS idx_shops_location
    ON shops (location_id, seq);
`, dims)
}

// ─────────────────────────────────────────────────────────────────────────────
// Memory DDL
// ─────────────────────────────────────────────────────────────────────────────

func ddlMemories(dims int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memories (
    seq          BIGSERIAL         UNIQUE,
    id           TEXT              PRIMARY KEY,
    campaign_id  TEXT              NOT NULL,
    content      TEXT              NOT NULL,
    type         TEXT              NOT NULL DEFAULT '',
    embedding    vector(%d)        NOT NULL,
    importance   DOUBLE PRECISION,
    related_id   TEXT              NOT NULL DEFAULT '',
    metadata     JSONB,
    created_at   TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_campaign
    ON memories (campaign_id, seq);

CREATE INDEX IF NOT EXISTS idx_memories_campaign_type
    ON memories (campaign_id, type);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// Migrate creates or ensures all required tables, indexes and extensions.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlWorld(docstore.EmbeddingDimensions),
		ddlMemories(docstore.EmbeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
