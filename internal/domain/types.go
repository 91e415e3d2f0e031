// Package domain holds the immutable value types shared by the
// validator, posting engine, audit chain, and closures engine: entries,
// lines, results, and the stable error-kind vocabulary.
package domain

import (
	"fmt"
	"time"
)

// ErrorKind is a stable, externally-visible tag for a validation or
// posting failure. Values are part of the contract — never renamed.
type ErrorKind string

const (
	Unbalanced          ErrorKind = "UNBALANCED"
	NegativeAmount      ErrorKind = "NEGATIVE_AMOUNT"
	InvalidAccount      ErrorKind = "INVALID_ACCOUNT"
	PeriodClosed        ErrorKind = "PERIOD_CLOSED"
	AlreadyReversed     ErrorKind = "ALREADY_REVERSED"
	AmbiguousLine       ErrorKind = "AMBIGUOUS_LINE"
	EmptyLines          ErrorKind = "EMPTY_LINES"
	DBError             ErrorKind = "DB_ERROR"
	IdempotenceConflict ErrorKind = "IDEMPOTENCE_CONFLICT"
	ProtocolError       ErrorKind = "PROTOCOL_ERROR"
	InvalidDate         ErrorKind = "INVALID_DATE"
	NotFound            ErrorKind = "NOT_FOUND"
	VATMismatch         ErrorKind = "VAT_MISMATCH"
	InvalidInput        ErrorKind = "INVALID_INPUT"

	// PeriodOpen is used only by the closures engine, when a
	// prerequisite period is not in the state a transition requires
	// (e.g. finalizing a year with unclosed months, or opening a year
	// whose prior year isn't finalized).
	PeriodOpen ErrorKind = "PERIOD_OPEN"
)

// LedgerError is a typed, kind-tagged validation or posting failure.
// No inheritance hierarchy — every failure mode is one of these.
type LedgerError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e LedgerError) Error() string { return string(e.Kind) + ": " + e.Message }

func NewError(kind ErrorKind, message string) LedgerError {
	return LedgerError{Kind: kind, Message: message}
}

func NewErrorf(kind ErrorKind, details map[string]any, format string, args ...any) LedgerError {
	return LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

// LineInput is one leg of an entry as the caller supplies it: decimal
// amount strings, not yet normalized to cents.
type LineInput struct {
	AccountCode string
	Dare        string // decimal literal, e.g. "122.00"; "" means zero
	Avere       string
}

// Line is one leg of an entry after amount normalization: non-negative
// integer cents, exactly one side populated on a well-formed line.
// The validator is responsible for enforcing that invariant; Line
// itself only carries the values.
type Line struct {
	AccountCode string `json:"account_code"`
	DareCents   int64  `json:"dare_cents"`
	AvereCents  int64  `json:"avere_cents"`
}

// EntryInput is what a caller hands to the posting engine: a complete
// candidate entry, pre-normalization, pre-persistence.
type EntryInput struct {
	Date              string
	Description       string
	Document          *string
	DocumentDate      *string
	Party             *string
	ReversalOf        *int64
	ClientReferenceID *string
	ProtocolSeries    *string
	TaxableAmount     *string // decimal literal
	VATRate           *string // decimal literal, e.g. "0.22"
	VATAmount         *string // decimal literal
	Lines             []LineInput
	IdempotenceKey    string
}

// NormalizedEntry is an EntryInput after normalization has converted
// every monetary field to integer cents. The validator and posting engine
// operate on this shape exclusively; VATRate is preserved verbatim
// since it is a ratio, not a money amount.
type NormalizedEntry struct {
	Date              string
	Description       string
	Document          *string
	DocumentDate      *string
	Party             *string
	ReversalOf        *int64
	ClientReferenceID *string
	ProtocolSeries    *string
	TaxableCents      *int64
	VATRate           *string
	VATAmountCents    *int64
	Lines             []Line
}

// Entry is a fully posted, immutable journal entry as stored.
type Entry struct {
	ID                int64   `json:"id"`
	Date              string  `json:"date"`
	Year              string  `json:"year"`
	Description       string  `json:"description"`
	Document          *string `json:"document,omitempty"`
	DocumentDate      *string `json:"document_date,omitempty"`
	Party             *string `json:"party,omitempty"`
	ReversalOf        *int64  `json:"reversal_of,omitempty"`
	ClientReferenceID *string `json:"client_reference_id,omitempty"`
	Protocol          string  `json:"protocol"`
	ProtocolSeries    string  `json:"protocol_series"`
	ProtocolNo        int64   `json:"protocol_no"`
	CreatedBy         string  `json:"created_by"`
	TaxableCents      *int64  `json:"taxable_amount_cents,omitempty"`
	VATRate           *string `json:"vat_rate,omitempty"`
	VATAmountCents    *int64  `json:"vat_amount_cents,omitempty"`
	Lines             []Line  `json:"lines"`
}

// Result is the tagged outcome every public operation returns. It never
// lets a storage or unexpected failure escape as a raw error to the
// caller; those are normalized into Errors with kind DBError.
type Result struct {
	Success      bool          `json:"success"`
	EntryID      *int64        `json:"entry_id,omitempty"`
	Protocol     *string       `json:"protocol,omitempty"`
	ErrorDetails []LedgerError `json:"error_details,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

func Success(entryID int64, protocol string) Result {
	return Result{
		Success:   true,
		EntryID:   &entryID,
		Protocol:  &protocol,
		Timestamp: time.Now().UTC(),
	}
}

// SuccessNoPosting is the closures-engine case where a step completed
// without posting any entry (e.g. finalize_year, or a closing/opening
// entry with nothing to post).
func SuccessNoPosting() Result {
	return Result{Success: true, Timestamp: time.Now().UTC()}
}

func Failure(errs []LedgerError) Result {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return Result{
		Success:      false,
		ErrorDetails: errs,
		Errors:       msgs,
		Timestamp:    time.Now().UTC(),
	}
}

func FailureOne(kind ErrorKind, message string) Result {
	return Failure([]LedgerError{NewError(kind, message)})
}

// Account, Period: the two other persisted reference types the
// validator reads through repository interfaces (internal/store).

type StatementType string

const (
	Asset     StatementType = "ASSET"
	Liability StatementType = "LIABILITY"
	Equity    StatementType = "EQUITY"
	Revenue   StatementType = "REVENUE"
	Expense   StatementType = "EXPENSE"
)

type Account struct {
	Code          string
	Name          string
	StatementType StatementType
}

type PeriodStatus string

const (
	PeriodOpenStatus      PeriodStatus = "open"
	PeriodClosedStatus    PeriodStatus = "closed"
	PeriodFinalizedStatus PeriodStatus = "finalized"
)

type Period struct {
	Year      string
	Month     *string
	StartDate string
	EndDate   string
	Status    PeriodStatus
}

// AccrualItem is a rateo: an expense recognized in the closing period
// before the supporting document arrives. Posted Dr expense, Cr payable.
type AccrualItem struct {
	Description    string
	Date           string
	ExpenseAccount string
	PayableAccount string
	Amount         string // decimal literal
}

// DeferralItem is a risconto: an already-recorded expense whose
// recognition is pushed into a later period. Posted Dr prepaid, Cr expense.
type DeferralItem struct {
	Description    string
	Date           string
	PrepaidAccount string
	ExpenseAccount string
	Amount         string
}

// AmortizationItem recognizes one period's amortization of an asset.
// Posted Dr amortization expense, Cr asset.
type AmortizationItem struct {
	Description                string
	Date                       string
	AssetAccount               string
	AmortizationExpenseAccount string
	Amount                     string
}

// ClosureAdjustments bundles the three explicit adjustment lists a
// caller may supply to close_period; none are inferred.
type ClosureAdjustments struct {
	Accruals      []AccrualItem
	Deferrals     []DeferralItem
	Amortizations []AmortizationItem
}

// TrialBalanceLine is one row of a period trial balance: the net
// balance of an account over a date range, classified by its natural
// side.
type TrialBalanceLine struct {
	AccountCode   string        `json:"account_code"`
	StatementType StatementType `json:"statement_type"`
	Side          Side          `json:"side"`
	AmountCents   int64         `json:"amount_cents"`
}

type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)
