// chainverify re-derives the audit_log hash chain end to end and
// reports the first row where it breaks, if any. It reads audit_log
// directly, so an auditor can run it out of process against a copy of
// the database without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerpost/internal/audit"
	"ledgerpost/internal/store"
)

func main() {
	var dsn = flag.String("dsn", os.Getenv("LEDGER_DB_DSN"), "postgres connection string")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "missing -dsn (or LEDGER_DB_DSN)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(2)
	}
	defer pool.Close()

	st := store.New(pool)
	result, err := audit.VerifyChain(ctx, st, pool)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(2)
	}

	if !result.OK() {
		fmt.Printf("FAIL: chain broken at audit_log row %d (checked %d rows)\nexpected=%s\nstored=%s\n",
			result.Break.RowID, result.RowsChecked, result.Break.Expected, result.Break.Stored)
		os.Exit(1)
	}

	fmt.Printf("OK: chain verified (%d rows)\n", result.RowsChecked)
}
