// Package validator implements the posting engine's validation
// pipeline: a pure function from an entry plus three read-only
// repositories to a list of typed errors. It never mutates storage
// and never short-circuits; every applicable rule runs, so a caller
// sees every problem on an entry in one round trip.
package validator

import (
	"context"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"ledgerpost/internal/domain"
	"ledgerpost/internal/money"
)

var dateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// AccountRepo resolves whether an account code is known. Read-only.
type AccountRepo interface {
	Exists(ctx context.Context, accountCode string) (bool, error)
}

// PeriodRepo answers whether a date falls inside an open period. Open
// is defined by the absence of any closed/finalized period covering
// the date.
type PeriodRepo interface {
	IsOpenByDate(ctx context.Context, isoDate string) (bool, error)
}

// EntryRepo resolves entry existence and reversal linkage. Validation
// must never follow the reversal_of pointer transitively — only ask
// these two questions about the immediate target.
type EntryRepo interface {
	Exists(ctx context.Context, entryID int64) (bool, error)
	HasReversalFor(ctx context.Context, originalEntryID int64) (bool, error)
}

// Validate runs every rule against entry and returns the combined list
// of errors. A nil error return means every rule ran to completion
// (the list is empty when the entry is valid); a non-nil error means a repository call failed and the
// caller (the posting engine) should surface that as an infrastructure
// failure, not a validation failure.
func Validate(
	ctx context.Context,
	entry domain.NormalizedEntry,
	accounts AccountRepo,
	periods PeriodRepo,
	entries EntryRepo,
) ([]domain.LedgerError, error) {
	var errs []domain.LedgerError

	errs = append(errs, validateBalanced(entry)...)
	errs = append(errs, validateNoNegative(entry)...)

	accErrs, err := validateAccountsExist(ctx, entry, accounts)
	if err != nil {
		return nil, err
	}
	errs = append(errs, accErrs...)

	periodErrs, err := validateDateAndPeriod(ctx, entry, periods)
	if err != nil {
		return nil, err
	}
	errs = append(errs, periodErrs...)

	revErrs, err := validateReversalLegality(ctx, entry, entries)
	if err != nil {
		return nil, err
	}
	errs = append(errs, revErrs...)

	errs = append(errs, validateVATConsistency(entry)...)

	return errs, nil
}

func validateBalanced(entry domain.NormalizedEntry) []domain.LedgerError {
	var totalDare, totalAvere int64
	for _, l := range entry.Lines {
		totalDare += l.DareCents
		totalAvere += l.AvereCents
	}
	if totalDare != totalAvere {
		return []domain.LedgerError{domain.NewError(
			domain.Unbalanced,
			fmt.Sprintf("entry not balanced: dare=%s avere=%s", money.FormatCents(totalDare), money.FormatCents(totalAvere)),
		)}
	}
	return nil
}

func validateNoNegative(entry domain.NormalizedEntry) []domain.LedgerError {
	var errs []domain.LedgerError
	for _, l := range entry.Lines {
		if l.DareCents < 0 || l.AvereCents < 0 {
			errs = append(errs, domain.NewError(domain.NegativeAmount,
				fmt.Sprintf("negative amount on account %s", l.AccountCode)))
		}
		if l.DareCents > 0 && l.AvereCents > 0 {
			errs = append(errs, domain.NewError(domain.AmbiguousLine,
				fmt.Sprintf("ambiguous line on account %s: both dare and avere are nonzero", l.AccountCode)))
		}
		if l.DareCents == 0 && l.AvereCents == 0 {
			errs = append(errs, domain.NewError(domain.EmptyLines,
				fmt.Sprintf("empty line on account %s: dare and avere are both zero", l.AccountCode)))
		}
	}
	return errs
}

func validateAccountsExist(ctx context.Context, entry domain.NormalizedEntry, accounts AccountRepo) ([]domain.LedgerError, error) {
	var errs []domain.LedgerError
	for _, l := range entry.Lines {
		ok, err := accounts.Exists(ctx, l.AccountCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs = append(errs, domain.NewError(domain.InvalidAccount,
				fmt.Sprintf("account %s does not exist", l.AccountCode)))
		}
	}
	return errs, nil
}

func validateDateAndPeriod(ctx context.Context, entry domain.NormalizedEntry, periods PeriodRepo) ([]domain.LedgerError, error) {
	if !dateRE.MatchString(entry.Date) {
		return []domain.LedgerError{domain.NewError(domain.InvalidDate,
			fmt.Sprintf("invalid date: %s", entry.Date))}, nil
	}
	open, err := periods.IsOpenByDate(ctx, entry.Date)
	if err != nil {
		return nil, err
	}
	if !open {
		return []domain.LedgerError{domain.NewError(domain.PeriodClosed,
			fmt.Sprintf("period closed for date %s", entry.Date))}, nil
	}
	return nil, nil
}

func validateReversalLegality(ctx context.Context, entry domain.NormalizedEntry, entries EntryRepo) ([]domain.LedgerError, error) {
	if entry.ReversalOf == nil {
		return nil, nil
	}
	original := *entry.ReversalOf
	exists, err := entries.Exists(ctx, original)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []domain.LedgerError{domain.NewError(domain.NotFound,
			fmt.Sprintf("entry %d does not exist", original))}, nil
	}
	reversed, err := entries.HasReversalFor(ctx, original)
	if err != nil {
		return nil, err
	}
	if reversed {
		return []domain.LedgerError{domain.NewError(domain.AlreadyReversed,
			fmt.Sprintf("entry %d has already been reversed", original))}, nil
	}
	return nil, nil
}

// validateVATConsistency enforces q2(q2(taxable) * q2(rate)) == q2(amount)
// whenever all three fields are supplied; absent fields skip the rule
// entirely rather than defaulting to zero.
func validateVATConsistency(entry domain.NormalizedEntry) []domain.LedgerError {
	if entry.TaxableCents == nil || entry.VATRate == nil || entry.VATAmountCents == nil {
		return nil
	}
	taxable := decimal.New(*entry.TaxableCents, -2)
	rate, err := decimal.NewFromString(*entry.VATRate)
	if err != nil {
		return []domain.LedgerError{domain.NewError(domain.VATMismatch,
			fmt.Sprintf("invalid vat rate: %s", *entry.VATRate))}
	}
	actual := decimal.New(*entry.VATAmountCents, -2)

	expected := money.Q2(money.Q2(taxable).Mul(money.Q2(rate)))
	if !expected.Equal(money.Q2(actual)) {
		return []domain.LedgerError{domain.NewError(domain.VATMismatch,
			fmt.Sprintf("vat mismatch: expected=%s found=%s", expected.StringFixed(2), actual.StringFixed(2)))}
	}
	return nil
}
