package closures

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerpost/internal/domain"
	"ledgerpost/internal/posting"
	"ledgerpost/internal/store"
)

func testEngines(t *testing.T) (*Engine, *posting.Engine, context.Context) {
	t.Helper()
	dsn := os.Getenv("LEDGER_DB_DSN")
	if dsn == "" {
		t.Skip("LEDGER_DB_DSN not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := store.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.EnsureSeedAccounts(ctx, pool); err != nil {
		t.Fatalf("seed accounts: %v", err)
	}

	st := store.New(pool)
	pe := posting.New(st, pool)
	return New(st, pe), pe, ctx
}

func TestClosePeriodSweepsRevenueAndExpenseIntoEquity(t *testing.T) {
	ce, pe, ctx := testEngines(t)
	year := "2027"
	if err := store.EnsureOpenAnnualPeriod(ctx, ce.Store.Pool, year); err != nil {
		t.Fatal(err)
	}

	sale := domain.EntryInput{
		Date: year + "-03-01", Description: "sale",
		Lines: []domain.LineInput{
			{AccountCode: "1000", Dare: "500.00"},
			{AccountCode: "4000", Avere: "500.00"},
		},
		IdempotenceKey: uuid.NewString(),
	}
	if res := pe.Post(ctx, sale, "tester"); !res.Success {
		t.Fatalf("sale post failed: %+v", res)
	}

	expense := domain.EntryInput{
		Date: year + "-03-02", Description: "rent",
		Lines: []domain.LineInput{
			{AccountCode: "5000", Dare: "200.00"},
			{AccountCode: "1000", Avere: "200.00"},
		},
		IdempotenceKey: uuid.NewString(),
	}
	if res := pe.Post(ctx, expense, "tester"); !res.Success {
		t.Fatalf("expense post failed: %+v", res)
	}

	closeRes := ce.ClosePeriod(ctx, year, nil, "tester", domain.ClosureAdjustments{})
	if !closeRes.Success {
		t.Fatalf("expected close to succeed, got %+v", closeRes)
	}

	lines, err := ce.TrialBalance(ctx, year+"-01-01", year+"-12-31")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range lines {
		if (l.AccountCode == "4000" || l.AccountCode == "5000") && l.AmountCents != 0 {
			t.Fatalf("expected revenue/expense accounts to net to zero after closing, found %+v", l)
		}
	}
}

func TestClosePeriodPostsAccrualAdjustmentBeforeClosing(t *testing.T) {
	ce, _, ctx := testEngines(t)
	year := "2033"
	if err := store.EnsureOpenAnnualPeriod(ctx, ce.Store.Pool, year); err != nil {
		t.Fatal(err)
	}

	adj := domain.ClosureAdjustments{
		Accruals: []domain.AccrualItem{
			{Description: "accrued utilities", Date: year + "-12-31", ExpenseAccount: "5000", PayableAccount: "2000", Amount: "75.00"},
		},
	}
	res := ce.ClosePeriod(ctx, year, nil, "tester", adj)
	if !res.Success {
		t.Fatalf("expected close with adjustments to succeed, got %+v", res)
	}

	lines, err := ce.TrialBalance(ctx, year+"-01-01", year+"-12-31")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range lines {
		if l.AccountCode == "2000" && l.AmountCents != 7500 {
			t.Fatalf("expected accrued payable balance 7500, got %+v", l)
		}
		if l.AccountCode == "5000" && l.AmountCents != 0 {
			t.Fatalf("expected accrued expense to be swept by closing, found %+v", l)
		}
	}
}

func TestClosePeriodRejectsAlreadyClosedPeriod(t *testing.T) {
	ce, _, ctx := testEngines(t)
	year := "2028"
	if err := store.EnsureOpenAnnualPeriod(ctx, ce.Store.Pool, year); err != nil {
		t.Fatal(err)
	}
	if res := ce.ClosePeriod(ctx, year, nil, "tester", domain.ClosureAdjustments{}); !res.Success {
		t.Fatalf("expected first close to succeed, got %+v", res)
	}
	res := ce.ClosePeriod(ctx, year, nil, "tester", domain.ClosureAdjustments{})
	if res.Success {
		t.Fatal("expected closing an already-closed period to fail")
	}
	if res.ErrorDetails[0].Kind != domain.PeriodClosed {
		t.Fatalf("expected PERIOD_CLOSED, got %+v", res.ErrorDetails)
	}
}

func TestFinalizeYearRequiresMonthsClosed(t *testing.T) {
	ce, _, ctx := testEngines(t)
	year := "2029"
	if err := store.EnsureOpenAnnualPeriod(ctx, ce.Store.Pool, year); err != nil {
		t.Fatal(err)
	}
	if err := ce.Store.InsertPeriodIfMissing(ctx, ce.Store.Pool, year, strPtr("01"), year+"-01-01", year+"-01-31", domain.PeriodOpenStatus); err != nil {
		t.Fatal(err)
	}

	res := ce.FinalizeYear(ctx, year, "tester")
	if res.Success {
		t.Fatal("expected finalize to fail while a monthly period is still open")
	}
	if res.ErrorDetails[0].Kind != domain.PeriodOpen {
		t.Fatalf("expected PERIOD_OPEN, got %+v", res.ErrorDetails)
	}
}

func TestOpenNewPeriodRejectsMissingPriorYear(t *testing.T) {
	ce, _, ctx := testEngines(t)
	// No period row was ever created for 2098, so 2099 cannot open.
	res := ce.OpenNewPeriod(ctx, "2099", "tester")
	if res.Success {
		t.Fatal("expected opening a year with no prior-year period record to fail")
	}
	if res.ErrorDetails[0].Kind != domain.NotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", res.ErrorDetails)
	}
}

func TestOpenNewPeriodRequiresPriorYearFinalized(t *testing.T) {
	ce, _, ctx := testEngines(t)
	year := "2030"
	if err := store.EnsureOpenAnnualPeriod(ctx, ce.Store.Pool, year); err != nil {
		t.Fatal(err)
	}
	// year is open, not finalized, so 2031 cannot open yet.
	res := ce.OpenNewPeriod(ctx, "2031", "tester")
	if res.Success {
		t.Fatal("expected opening next year to fail while prior year isn't finalized")
	}
	if res.ErrorDetails[0].Kind != domain.PeriodOpen {
		t.Fatalf("expected PERIOD_OPEN, got %+v", res.ErrorDetails)
	}
}

func strPtr(s string) *string { return &s }
