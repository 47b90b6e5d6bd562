package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/realmkeeper/pkg/docstore"
	"github.com/MrWong99/realmkeeper/pkg/docstore/postgres"
	"github.com/MrWong99/realmkeeper/pkg/docstore/storetest"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if REALMKEEPER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("REALMKEEPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REALMKEEPER_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops every table created by Migrate and returns a fresh
// store. The store is closed when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, table := range []string{"memories", "shops", "player_states", "locations"} {
		if _, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
	_ = conn.Close(ctx)

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) docstore.Store { return newTestStore(t) })
}

func TestWithinTx_NestedUsesOuterTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, &docstore.Location{CampaignID: "c1", Name: "Gate"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err = store.WithinTx(ctx, func(tx docstore.Store) error {
		inner, ok := tx.(docstore.Transactor)
		if !ok {
			t.Fatal("transaction-bound store must still implement Transactor")
		}
		return inner.WithinTx(ctx, func(tx docstore.Store) error {
			return tx.Patch(ctx, id, docstore.LocationPatch{MapX: docstore.Ptr(1), MapY: docstore.Ptr(2)})
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	got, err := docstore.GetLocation(ctx, store, id)
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if !got.Positioned() || *got.MapX != 1 || *got.MapY != 2 {
		t.Errorf("position = (%v, %v), want (1, 2)", got.MapX, got.MapY)
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
