// Package sqlite provides a single-file SQLite implementation of
// [docstore.Store] built on the pure-Go modernc.org/sqlite driver.
//
// All collections share one documents table. Indexed fields are stored as
// columns, the rest of the document as a JSON body, and embeddings as
// little-endian float32 BLOBs. Vector queries filter by campaign and type in
// SQL and rank the surviving rows by exact cosine similarity, which suits
// the campaign sizes a local single-user deployment deals with.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Compile-time interface checks.
var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT    NOT NULL UNIQUE,
    collection   TEXT    NOT NULL,
    campaign_id  TEXT    NOT NULL DEFAULT '',
    location_id  TEXT    NOT NULL DEFAULT '',
    player_id    TEXT    NOT NULL DEFAULT '',
    type         TEXT    NOT NULL DEFAULT '',
    body         TEXT    NOT NULL,
    embedding    BLOB
);

CREATE INDEX IF NOT EXISTS idx_documents_campaign
    ON documents (collection, campaign_id, seq);

CREATE INDEX IF NOT EXISTS idx_documents_location
    ON documents (collection, location_id, seq);

CREATE INDEX IF NOT EXISTS idx_documents_player
    ON documents (collection, player_id, seq);
`

// execer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists documents in SQLite. A Store handed to a [Store.WithinTx]
// callback is bound to that transaction.
type Store struct {
	sqlDB *sql.DB
	db    execer
}

// Open opens (creating if needed) the database file at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// SQLite admits a single writer; one connection keeps transactions
	// from tripping over SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{sqlDB: sqlDB, db: sqlDB}, nil
}

// Ping checks that the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithinTx implements [docstore.Transactor]. On a transaction-bound Store fn
// joins the existing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx docstore.Store) error) error {
	if _, inTx := s.db.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	if err := fn(&Store{sqlDB: s.sqlDB, db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlite store: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

// Get implements [docstore.Store].
func (s *Store) Get(ctx context.Context, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT collection, body, embedding FROM documents WHERE id = ?`, id)
	doc, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}
	return doc, nil
}

// Insert implements [docstore.Store].
func (s *Store) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("sqlite store: insert: document must not be nil")
	}
	doc = doc.Clone()
	if doc.DocID() == "" {
		doc.SetID(uuid.NewString())
	}
	body, err := encodeBody(doc)
	if err != nil {
		return "", fmt.Errorf("sqlite store: insert %s: %w", doc.Collection(), err)
	}
	location, _ := doc.IndexValue(docstore.FieldLocationID)
	player, _ := doc.IndexValue(docstore.FieldPlayerID)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, collection, campaign_id, location_id, player_id, type, body, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID(), string(doc.Collection()), doc.Campaign(), location, player,
		docstore.TypeTag(doc), body, encodeVector(docstore.EmbeddingOf(doc)),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite store: insert %s: %w", doc.Collection(), err)
	}
	return doc.DocID(), nil
}

// Patch implements [docstore.Store]. The read-modify-write runs in a
// transaction so concurrent patches never lose updates.
func (s *Store) Patch(ctx context.Context, id string, p docstore.Patch) error {
	return s.WithinTx(ctx, func(tx docstore.Store) error {
		ts := tx.(*Store)
		doc, err := ts.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := p.ApplyTo(doc); err != nil {
			return fmt.Errorf("sqlite store: patch %s: %w", id, err)
		}
		body, err := encodeBody(doc)
		if err != nil {
			return fmt.Errorf("sqlite store: patch %s: %w", id, err)
		}
		if _, err := ts.db.ExecContext(ctx, `UPDATE documents SET body = ?, embedding = ? WHERE id = ?`,
			body, encodeVector(docstore.EmbeddingOf(doc)), id); err != nil {
			return fmt.Errorf("sqlite store: patch %s: %w", id, err)
		}
		return nil
	})
}

// Delete implements [docstore.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	return nil
}

// QueryByIndex implements [docstore.Store].
func (s *Store) QueryByIndex(ctx context.Context, c docstore.Collection, field docstore.Field, value string) ([]docstore.Document, error) {
	if err := docstore.CheckIndex(c, field); err != nil {
		return nil, err
	}
	// field is one of the fixed column names validated above.
	q := fmt.Sprintf(`SELECT collection, body, embedding FROM documents WHERE collection = ? AND %s = ? ORDER BY seq`, field)
	rows, err := s.db.QueryContext(ctx, q, string(c), value)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query %s.%s: %w", c, field, err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		doc, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan %s: %w", c, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: query %s.%s: %w", c, field, err)
	}
	return docs, nil
}

// VectorSearch implements [docstore.Store].
func (s *Store) VectorSearch(ctx context.Context, c docstore.Collection, vec []float32, k int, filter docstore.Filter) ([]docstore.ScoredDocument, error) {
	if !c.Searchable() {
		return nil, fmt.Errorf("%w: %q has no vector index", docstore.ErrUnsupportedCollection, c)
	}
	if k <= 0 {
		return []docstore.ScoredDocument{}, nil
	}

	args := []any{string(c)}
	conditions := []string{"collection = ?", "embedding IS NOT NULL"}
	if filter.CampaignID != "" {
		conditions = append(conditions, "campaign_id = ?")
		args = append(args, filter.CampaignID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	q := `SELECT collection, body, embedding FROM documents WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: vector search %s: %w", c, err)
	}
	defer rows.Close()

	var candidates []docstore.Document
	for rows.Next() {
		doc, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan %s: %w", c, err)
		}
		candidates = append(candidates, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: vector search %s: %w", c, err)
	}
	return docstore.RankByCosine(candidates, vec, k), nil
}
