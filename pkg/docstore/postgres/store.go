package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
)

// Compile-time interface checks.
var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// querier is the subset of the pgx API shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed document store. It holds a single
// [pgxpool.Pool]; a Store handed to a [Store.WithinTx] callback is bound to
// the transaction instead.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// NewStore creates a connection pool to the database at dsn, registers the
// pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, db: pool}, nil
}

// Ping checks database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithinTx implements [docstore.Transactor] using a single database
// transaction. Calling it on a transaction-bound Store runs fn inside the
// existing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx docstore.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{db: tx})
	})
}

// Get implements [docstore.Store].
func (s *Store) Get(ctx context.Context, id string) (docstore.Document, error) {
	c, err := s.lookupCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, selectByID[c], id)
	doc, err := scanDocument(c, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %s: %w", id, err)
	}
	return doc, nil
}

// Insert implements [docstore.Store].
func (s *Store) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("postgres store: insert: document must not be nil")
	}
	doc = doc.Clone()
	if doc.DocID() == "" {
		doc.SetID(uuid.NewString())
	}
	q, args := insertStatement(doc)
	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return "", fmt.Errorf("postgres store: insert %s: %w", doc.Collection(), err)
	}
	return doc.DocID(), nil
}

// Patch implements [docstore.Store].
func (s *Store) Patch(ctx context.Context, id string, p docstore.Patch) error {
	c, err := s.lookupCollection(ctx, id)
	if err != nil {
		return err
	}
	if c != p.Target() {
		return fmt.Errorf("postgres store: patch %s: %w", id, docstore.ErrPatchMismatch)
	}
	q, args := updateStatement(id, p)
	if q == "" {
		return nil
	}
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres store: patch %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	return nil
}

// Delete implements [docstore.Store].
func (s *Store) Delete(ctx context.Context, id string) error {
	c, err := s.lookupCollection(ctx, id)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", c), id)
	if err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	return nil
}

// QueryByIndex implements [docstore.Store].
func (s *Store) QueryByIndex(ctx context.Context, c docstore.Collection, field docstore.Field, value string) ([]docstore.Document, error) {
	if err := docstore.CheckIndex(c, field); err != nil {
		return nil, err
	}
	// field and c come from closed sets validated above; never user input.
	q := fmt.Sprintf("%s WHERE %s = $1 ORDER BY seq", selectColumns[c], field)
	rows, err := s.db.Query(ctx, q, value)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query %s.%s: %w", c, field, err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		return scanDocument(c, row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan %s: %w", c, err)
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return docs, nil
}

// lookupCollection finds which table holds id.
func (s *Store) lookupCollection(ctx context.Context, id string) (docstore.Collection, error) {
	const q = `
		SELECT 'locations'     FROM locations     WHERE id = $1
		UNION ALL
		SELECT 'player_states' FROM player_states WHERE id = $1
		UNION ALL
		SELECT 'shops'         FROM shops         WHERE id = $1
		UNION ALL
		SELECT 'memories'      FROM memories      WHERE id = $1
		LIMIT 1`

	var name string
	err := s.db.QueryRow(ctx, q, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", docstore.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: lookup %s: %w", id, err)
	}
	return docstore.Collection(name), nil
}
