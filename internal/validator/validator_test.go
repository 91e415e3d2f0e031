package validator

import (
	"context"
	"testing"

	"ledgerpost/internal/domain"
)

type fakeAccounts map[string]bool

func (f fakeAccounts) Exists(ctx context.Context, code string) (bool, error) { return f[code], nil }

type fakePeriods map[string]bool

func (f fakePeriods) IsOpenByDate(ctx context.Context, date string) (bool, error) {
	open, ok := f[date]
	if !ok {
		return true, nil
	}
	return open, nil
}

type fakeEntries struct {
	exists   map[int64]bool
	reversed map[int64]bool
}

func (f fakeEntries) Exists(ctx context.Context, id int64) (bool, error) { return f.exists[id], nil }
func (f fakeEntries) HasReversalFor(ctx context.Context, id int64) (bool, error) {
	return f.reversed[id], nil
}

func balancedEntry() domain.NormalizedEntry {
	return domain.NormalizedEntry{
		Date:        "2026-03-15",
		Description: "test entry",
		Lines: []domain.Line{
			{AccountCode: "1000", DareCents: 1000},
			{AccountCode: "4000", AvereCents: 1000},
		},
	}
}

func defaultRepos() (fakeAccounts, fakePeriods, fakeEntries) {
	return fakeAccounts{"1000": true, "2000": true, "4000": true, "5000": true, "9999": true},
		fakePeriods{},
		fakeEntries{exists: map[int64]bool{}, reversed: map[int64]bool{}}
}

func TestValidateHappyPath(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	errs, err := Validate(context.Background(), balancedEntry(), accounts, periods, entries)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateUnbalanced(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	e.Lines[1].AvereCents = 999
	errs, err := Validate(context.Background(), e, accounts, periods, entries)
	if err != nil {
		t.Fatal(err)
	}
	if !hasKind(errs, domain.Unbalanced) {
		t.Fatalf("expected UNBALANCED, got %v", errs)
	}
}

func TestValidateNegativeAmount(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	e.Lines[0].DareCents = -1000
	e.Lines[1].AvereCents = -1000
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.NegativeAmount) {
		t.Fatalf("expected NEGATIVE_AMOUNT, got %v", errs)
	}
}

func TestValidateAmbiguousLine(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	e.Lines[0].AvereCents = 1000 // both dare and avere nonzero now
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.AmbiguousLine) {
		t.Fatalf("expected AMBIGUOUS_LINE, got %v", errs)
	}
}

func TestValidateEmptyLine(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	e.Lines = append(e.Lines, domain.Line{AccountCode: "2000"})
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.EmptyLines) {
		t.Fatalf("expected EMPTY_LINES, got %v", errs)
	}
}

func TestValidateInvalidAccount(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	e.Lines[0].AccountCode = "9876543"
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.InvalidAccount) {
		t.Fatalf("expected INVALID_ACCOUNT, got %v", errs)
	}
}

func TestValidateInvalidAccountReportedPerLine(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := domain.NormalizedEntry{
		Date: "2026-03-15",
		Lines: []domain.Line{
			{AccountCode: "bogus", DareCents: 500},
			{AccountCode: "bogus", DareCents: 500},
			{AccountCode: "4000", AvereCents: 1000},
		},
	}
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	count := 0
	for _, er := range errs {
		if er.Kind == domain.InvalidAccount {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected one INVALID_ACCOUNT error per offending line, got %d", count)
	}
}

func TestValidateInvalidDate(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	e.Date = "15-03-2026"
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.InvalidDate) {
		t.Fatalf("expected INVALID_DATE, got %v", errs)
	}
}

func TestValidatePeriodClosed(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	periods["2026-03-15"] = false
	e := balancedEntry()
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.PeriodClosed) {
		t.Fatalf("expected PERIOD_CLOSED, got %v", errs)
	}
}

func TestValidateReversalOfMissingEntry(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	orig := int64(42)
	e.ReversalOf = &orig
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.NotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", errs)
	}
}

func TestValidateReversalAlreadyReversed(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	entries.exists[42] = true
	entries.reversed[42] = true
	e := balancedEntry()
	orig := int64(42)
	e.ReversalOf = &orig
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.AlreadyReversed) {
		t.Fatalf("expected ALREADY_REVERSED, got %v", errs)
	}
}

func TestValidateVATConsistency(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	taxable := int64(10000)
	rate := "0.22"
	wrongAmount := int64(2100)
	e.TaxableCents = &taxable
	e.VATRate = &rate
	e.VATAmountCents = &wrongAmount
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if !hasKind(errs, domain.VATMismatch) {
		t.Fatalf("expected VAT_MISMATCH, got %v", errs)
	}

	correctAmount := int64(2200)
	e.VATAmountCents = &correctAmount
	errs, _ = Validate(context.Background(), e, accounts, periods, entries)
	if hasKind(errs, domain.VATMismatch) {
		t.Fatalf("expected no VAT_MISMATCH for a consistent rate/amount, got %v", errs)
	}
}

func TestValidateVATSkippedWhenFieldsPartial(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := balancedEntry()
	taxable := int64(10000)
	e.TaxableCents = &taxable // rate and amount left nil
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	if hasKind(errs, domain.VATMismatch) {
		t.Fatalf("expected VAT rule to be skipped when only one field is present, got %v", errs)
	}
}

func TestValidateRunsEveryRuleEvenWhenSeveralFail(t *testing.T) {
	accounts, periods, entries := defaultRepos()
	e := domain.NormalizedEntry{
		Date: "not-a-date",
		Lines: []domain.Line{
			{AccountCode: "bogus", DareCents: -100, AvereCents: 50},
		},
	}
	errs, _ := Validate(context.Background(), e, accounts, periods, entries)
	want := []domain.ErrorKind{domain.Unbalanced, domain.NegativeAmount, domain.AmbiguousLine, domain.InvalidAccount, domain.InvalidDate}
	for _, k := range want {
		if !hasKind(errs, k) {
			t.Fatalf("expected %s among errors, got %v", k, errs)
		}
	}
}

func hasKind(errs []domain.LedgerError, kind domain.ErrorKind) bool {
	for _, e := range errs {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
