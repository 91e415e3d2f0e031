// Package closures implements the period-closing and year-end
// workflow: ClosePeriod sweeps revenue and expense balances into
// equity, FinalizeYear locks a year once every month in it is closed,
// and OpenNewPeriod starts the next year by carrying forward
// balance-sheet balances as an opening entry.
package closures

import (
	"context"
	"fmt"
	"strconv"

	"ledgerpost/internal/audit"
	"ledgerpost/internal/domain"
	"ledgerpost/internal/money"
	"ledgerpost/internal/posting"
	"ledgerpost/internal/store"
)

// EquityAccountCode is the retained-earnings account closing entries
// post their balancing leg to; opening entries carry its balance
// forward like any other balance-sheet account. Seeded by
// store.EnsureSeedAccounts (code 9999).
const EquityAccountCode = "9999"

const (
	adjustmentSeries = "ADJ"
	closingSeries    = "CLOSE"
	openingSeries    = "OPEN"
)

type Engine struct {
	Store   *store.Store
	Posting *posting.Engine
}

func New(st *store.Store, p *posting.Engine) *Engine {
	return &Engine{Store: st, Posting: p}
}

// TrialBalance exposes the read-only trial balance computation
// directly, so callers can inspect per-account balances without
// closing anything.
func (e *Engine) TrialBalance(ctx context.Context, start, end string) ([]domain.TrialBalanceLine, error) {
	return e.Store.TrialBalance(ctx, e.Store.Pool, start, end)
}

// ClosePeriod closes the period covering [start, end] (identified by
// year and an optional month): it posts any explicit adjustment
// entries (accruals/deferrals/amortizations, series ADJ), computes the
// trial balance restricted to revenue and expense accounts, posts a
// single balanced closing entry (series CLOSE) sweeping their net
// balances into EquityAccountCode, and marks the period closed. A
// period with no revenue/expense activity still closes, just without
// posting a closing entry.
func (e *Engine) ClosePeriod(ctx context.Context, year string, month *string, userID string, adjustments domain.ClosureAdjustments) domain.Result {
	period, err := e.Store.GetPeriod(ctx, e.Store.Pool, year, month)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("load period: %v", err))
	}
	if period == nil {
		return domain.FailureOne(domain.NotFound, fmt.Sprintf("period %s/%v not found", year, month))
	}
	if period.Status != domain.PeriodOpenStatus {
		return domain.FailureOne(domain.PeriodClosed, fmt.Sprintf("period %s/%v is not open", year, month))
	}

	if res := e.postAdjustments(ctx, year, month, userID, adjustments); !res.Success {
		return res
	}

	lines, err := e.TrialBalance(ctx, period.StartDate, period.EndDate)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("trial balance: %v", err))
	}

	var closingLines []domain.LineInput
	var netToEquityCents int64 // positive = profit, swept to equity as a credit
	for _, l := range lines {
		if l.StatementType != domain.Revenue && l.StatementType != domain.Expense {
			continue
		}
		if l.AmountCents == 0 {
			continue
		}
		// Zero the account with a line on the side opposite its balance.
		// An abnormal balance (revenue in debit, expense in credit)
		// closes the same way, it just pulls equity the other direction.
		if l.Side == domain.Credit {
			closingLines = append(closingLines, domain.LineInput{AccountCode: l.AccountCode, Dare: money.FormatCents(l.AmountCents)})
			netToEquityCents += l.AmountCents
		} else {
			closingLines = append(closingLines, domain.LineInput{AccountCode: l.AccountCode, Avere: money.FormatCents(l.AmountCents)})
			netToEquityCents -= l.AmountCents
		}
	}

	var closingResult *domain.Result
	if len(closingLines) > 0 {
		if netToEquityCents > 0 {
			closingLines = append(closingLines, domain.LineInput{AccountCode: EquityAccountCode, Avere: money.FormatCents(netToEquityCents)})
		} else if netToEquityCents < 0 {
			closingLines = append(closingLines, domain.LineInput{AccountCode: EquityAccountCode, Dare: money.FormatCents(-netToEquityCents)})
		}

		series := closingSeries
		in := domain.EntryInput{
			Date:           period.EndDate,
			Description:    fmt.Sprintf("Closing entry for period %s/%v", year, derefMonth(month)),
			Lines:          closingLines,
			ProtocolSeries: &series,
			IdempotenceKey: closeIdempotenceKey(year, month),
		}
		result := e.Posting.Post(ctx, in, userID)
		if !result.Success {
			return result
		}
		closingResult = &result
	}

	if err := e.Store.UpdatePeriodStatus(ctx, e.Store.Pool, year, month, domain.PeriodClosedStatus); err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("update period status: %v", err))
	}

	// The CLOSE_PERIOD audit row carries the closing entry's id when one
	// was posted, so it chains onto that entry's own POST row; a period
	// with no economic activity audits under a nil entry id.
	var closingEntryID *int64
	if closingResult != nil {
		closingEntryID = closingResult.EntryID
	}
	if err := audit.Append(ctx, e.Store, e.Store.Pool, closingEntryID, "CLOSE_PERIOD", userID, map[string]any{"year": year, "month": derefMonth(month)}); err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("audit append: %v", err))
	}

	if closingResult != nil {
		return *closingResult
	}
	return domain.SuccessNoPosting()
}

// FinalizeYear locks a year once every monthly period within it is
// closed (a year with no monthly periods at all finalizes directly off
// its annual period, for deployments that never subdivide by month).
func (e *Engine) FinalizeYear(ctx context.Context, year, userID string) domain.Result {
	statuses, err := e.Store.MonthlyPeriodStatuses(ctx, e.Store.Pool, year)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("load monthly periods: %v", err))
	}
	for _, st := range statuses {
		if st == domain.PeriodOpenStatus {
			return domain.FailureOne(domain.PeriodOpen, fmt.Sprintf("year %s has an open monthly period", year))
		}
	}

	annual, err := e.Store.GetPeriod(ctx, e.Store.Pool, year, nil)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("load annual period: %v", err))
	}
	if annual == nil {
		return domain.FailureOne(domain.NotFound, fmt.Sprintf("annual period %s not found", year))
	}
	if annual.Status == domain.PeriodOpenStatus {
		return domain.FailureOne(domain.PeriodOpen, fmt.Sprintf("annual period %s must be closed before finalizing", year))
	}
	if annual.Status == domain.PeriodFinalizedStatus {
		return domain.FailureOne(domain.InvalidInput, fmt.Sprintf("year %s is already finalized", year))
	}

	if err := e.Store.UpdatePeriodStatus(ctx, e.Store.Pool, year, nil, domain.PeriodFinalizedStatus); err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("update period status: %v", err))
	}
	if err := audit.Append(ctx, e.Store, e.Store.Pool, nil, "FINALIZE_YEAR", userID, map[string]any{"year": year}); err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("audit append: %v", err))
	}

	return domain.SuccessNoPosting()
}

// OpenNewPeriod starts nextYear: the prior year's annual period must
// exist and be finalized, then nextYear's annual period is ensured to
// exist in status open, and an opening entry is posted carrying
// forward every balance-sheet account's balance as of the prior year
// end.
func (e *Engine) OpenNewPeriod(ctx context.Context, nextYear, userID string) domain.Result {
	nextYearNum, err := strconv.Atoi(nextYear)
	if err != nil {
		return domain.FailureOne(domain.InvalidDate, fmt.Sprintf("invalid year: %s", nextYear))
	}
	priorYear := strconv.Itoa(nextYearNum - 1)
	prior, err := e.Store.GetPeriod(ctx, e.Store.Pool, priorYear, nil)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("load prior period: %v", err))
	}
	if prior == nil {
		return domain.FailureOne(domain.NotFound, fmt.Sprintf("year %s not found", priorYear))
	}
	if prior.Status != domain.PeriodFinalizedStatus {
		return domain.FailureOne(domain.PeriodOpen, fmt.Sprintf("year %s is not finalized", priorYear))
	}

	// Ensure nextYear's annual row exists in status open. A row that is
	// already open is fine (the opening entry is idempotence-keyed, so
	// re-running carries no risk of double posting); one that has moved
	// past open means the year's book is already in use.
	existing, err := e.Store.GetPeriod(ctx, e.Store.Pool, nextYear, nil)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("load next period: %v", err))
	}
	if existing != nil && existing.Status != domain.PeriodOpenStatus {
		return domain.FailureOne(domain.InvalidInput, fmt.Sprintf("year %s is already %s", nextYear, existing.Status))
	}
	start := nextYear + "-01-01"
	end := nextYear + "-12-31"
	if err := e.Store.InsertPeriodIfMissing(ctx, e.Store.Pool, nextYear, nil, start, end, domain.PeriodOpenStatus); err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("insert period: %v", err))
	}

	lines, err := e.TrialBalance(ctx, prior.StartDate, prior.EndDate)
	if err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("trial balance: %v", err))
	}
	var openingLines []domain.LineInput
	for _, l := range lines {
		if l.StatementType != domain.Asset && l.StatementType != domain.Liability && l.StatementType != domain.Equity {
			continue
		}
		if l.AmountCents == 0 {
			continue
		}
		li := domain.LineInput{AccountCode: l.AccountCode}
		if l.Side == domain.Debit {
			li.Dare = money.FormatCents(l.AmountCents)
		} else {
			li.Avere = money.FormatCents(l.AmountCents)
		}
		openingLines = append(openingLines, li)
	}

	var openingResult *domain.Result
	if len(openingLines) > 0 {
		series := openingSeries
		in := domain.EntryInput{
			Date:           start,
			Description:    fmt.Sprintf("Opening balances carried forward from %s", priorYear),
			Lines:          openingLines,
			ProtocolSeries: &series,
			IdempotenceKey: openIdempotenceKey(nextYear),
		}
		result := e.Posting.Post(ctx, in, userID)
		if !result.Success {
			return result
		}
		openingResult = &result
	}

	var openingEntryID *int64
	if openingResult != nil {
		openingEntryID = openingResult.EntryID
	}
	if err := audit.Append(ctx, e.Store, e.Store.Pool, openingEntryID, "OPEN_PERIOD", userID, map[string]any{"year": nextYear}); err != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("audit append: %v", err))
	}

	if openingResult != nil {
		return *openingResult
	}
	return domain.SuccessNoPosting()
}

// postAdjustments posts every explicit accrual, deferral, and
// amortization on series ADJ, in that order, before the closing entry
// is computed. Nothing is inferred: an empty adjustments value posts
// nothing.
func (e *Engine) postAdjustments(ctx context.Context, year string, month *string, userID string, adj domain.ClosureAdjustments) domain.Result {
	series := adjustmentSeries
	idx := 0
	post := func(date, description string, lines []domain.LineInput) domain.Result {
		idx++
		in := domain.EntryInput{
			Date:           date,
			Description:    description,
			Lines:          lines,
			ProtocolSeries: &series,
			IdempotenceKey: fmt.Sprintf("adj:%s:%v:%d", year, derefMonth(month), idx),
		}
		return e.Posting.Post(ctx, in, userID)
	}

	for _, a := range adj.Accruals {
		res := post(a.Date, a.Description, []domain.LineInput{
			{AccountCode: a.ExpenseAccount, Dare: a.Amount},
			{AccountCode: a.PayableAccount, Avere: a.Amount},
		})
		if !res.Success {
			return res
		}
	}
	for _, d := range adj.Deferrals {
		res := post(d.Date, d.Description, []domain.LineInput{
			{AccountCode: d.PrepaidAccount, Dare: d.Amount},
			{AccountCode: d.ExpenseAccount, Avere: d.Amount},
		})
		if !res.Success {
			return res
		}
	}
	for _, am := range adj.Amortizations {
		res := post(am.Date, am.Description, []domain.LineInput{
			{AccountCode: am.AmortizationExpenseAccount, Dare: am.Amount},
			{AccountCode: am.AssetAccount, Avere: am.Amount},
		})
		if !res.Success {
			return res
		}
	}
	return domain.SuccessNoPosting()
}

func closeIdempotenceKey(year string, month *string) string {
	return "close:" + year + ":" + derefMonth(month)
}

func openIdempotenceKey(year string) string {
	return "open:" + year
}

func derefMonth(m *string) string {
	if m == nil {
		return ""
	}
	return *m
}