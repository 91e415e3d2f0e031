package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerpost/internal/domain"
	"ledgerpost/internal/store"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LEDGER_DB_DSN")
	if dsn == "" {
		t.Skip("LEDGER_DB_DSN not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func freshStore(t *testing.T) (*store.Store, context.Context) {
	t.Helper()
	pool := testPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	if err := store.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.EnsureSeedAccounts(ctx, pool); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}
	return store.New(pool), ctx
}

func TestEnsureSeedAccountsIsIdempotent(t *testing.T) {
	st, ctx := freshStore(t)
	if err := store.EnsureSeedAccounts(ctx, st.Pool); err != nil {
		t.Fatalf("second call: %v", err)
	}
	ok, err := st.AccountExists(ctx, st.Pool, "1000")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected seeded account 1000 to exist")
	}
}

func TestNextProtocolIsMonotonicPerYearSeries(t *testing.T) {
	st, ctx := freshStore(t)
	year := "2031"

	n1, p1, err := st.NextProtocol(ctx, st.Pool, year, "G")
	if err != nil {
		t.Fatal(err)
	}
	n2, p2, err := st.NextProtocol(ctx, st.Pool, year, "G")
	if err != nil {
		t.Fatal(err)
	}
	if n2 != n1+1 {
		t.Fatalf("expected consecutive counters, got %d then %d", n1, n2)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct protocol strings, got %s twice", p1)
	}

	n3, _, err := st.NextProtocol(ctx, st.Pool, year, "R")
	if err != nil {
		t.Fatal(err)
	}
	if n3 != 1 {
		t.Fatalf("expected a fresh series to start at 1, got %d", n3)
	}
}

func TestEnsureOpenAnnualPeriodIsIdempotent(t *testing.T) {
	st, ctx := freshStore(t)
	year := "2032"
	if err := store.EnsureOpenAnnualPeriod(ctx, st.Pool, year); err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureOpenAnnualPeriod(ctx, st.Pool, year); err != nil {
		t.Fatalf("second call should be a no-op, got: %v", err)
	}
	p, err := st.GetPeriod(ctx, st.Pool, year, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Status != domain.PeriodOpenStatus {
		t.Fatalf("expected an open annual period for %s, got %+v", year, p)
	}
}

func TestIdempotenceInsertRequiresExistingEntry(t *testing.T) {
	st, ctx := freshStore(t)
	err := st.IdempotenceInsert(ctx, st.Pool, "nonexistent-entry-guard", "hash-a", -1, "2031/G/000001")
	if err == nil {
		t.Fatal("expected FK violation inserting idempotence row against a nonexistent entry")
	}
}
