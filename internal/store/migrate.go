package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, "migrations/"+e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		sqlBytes, err := migrationsFS.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s failed: %w", f, err)
		}
	}
	return nil
}

// requiredSeedAccounts is the minimal chart of accounts the engine
// needs present to exercise every posting path in its own tests: one
// asset, one liability, one equity (the closing-entry counterpart),
// one revenue and one expense account.
var requiredSeedAccounts = []struct {
	code, name, statementType string
}{
	{"1000", "Generic asset", "ASSET"},
	{"2000", "Generic liability", "LIABILITY"},
	{"9999", "Retained earnings", "EQUITY"},
	{"4000", "Generic revenue", "REVENUE"},
	{"5000", "Generic expense", "EXPENSE"},
}

// EnsureSeedAccounts is idempotent on an existing database: it inserts
// only the codes that are missing, never touching rows that already
// exist.
func EnsureSeedAccounts(ctx context.Context, db *pgxpool.Pool) error {
	for _, a := range requiredSeedAccounts {
		_, err := db.Exec(ctx,
			`INSERT INTO accounts(code, name, statement_type) VALUES ($1,$2,$3)
			 ON CONFLICT (code) DO NOTHING`,
			a.code, a.name, a.statementType,
		)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", a.code, err)
		}
	}
	return nil
}

// EnsureOpenAnnualPeriod makes sure the given calendar year has an
// annual (month IS NULL) period row in status 'open'.
func EnsureOpenAnnualPeriod(ctx context.Context, db *pgxpool.Pool, year string) error {
	start := year + "-01-01"
	end := year + "-12-31"
	_, err := db.Exec(ctx,
		`INSERT INTO periods(year, month, start_date, end_date, status)
		 VALUES ($1, NULL, $2, $3, 'open')
		 ON CONFLICT (year) WHERE month IS NULL DO NOTHING`,
		year, start, end,
	)
	if err != nil {
		return fmt.Errorf("ensure open period for %s: %w", year, err)
	}
	return nil
}

// CurrentYear is a small seam so callers (and tests) can pin the
// bootstrap year without reaching for time.Now() directly.
func CurrentYear() string {
	return time.Now().UTC().Format("2006")
}
