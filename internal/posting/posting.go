// Package posting implements the posting engine — the single write
// path every journal entry goes through — and the reversal builder.
// Validation runs against committed reads; everything that mutates
// (protocol allocation, entry and line inserts, reversal linkage,
// audit row, idempotence row) commits in one Serializable transaction
// or not at all.
package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerpost/internal/audit"
	"ledgerpost/internal/canon"
	"ledgerpost/internal/domain"
	"ledgerpost/internal/money"
	"ledgerpost/internal/store"
	"ledgerpost/internal/validator"
)

// DefaultSeries is the protocol series used when a caller doesn't
// specify one.
const DefaultSeries = "GEN"

type Engine struct {
	Store *store.Store
	Pool  *pgxpool.Pool
	Retry store.RetryPolicy
	Clock func() time.Time
}

func New(st *store.Store, pool *pgxpool.Pool) *Engine {
	return &Engine{Store: st, Pool: pool, Retry: store.DefaultRetryPolicy(), Clock: time.Now}
}

// idemPayload is the deterministic shape hashed for idempotence
// comparison: the posting user and the entry content the caller
// controls, minus the idempotence key itself, the protocol series, and
// anything the engine assigns (protocol, entry id, timestamp).
// Monetary amounts are fixed-2dp strings and line sides integer cents,
// the canonical textual form. Two requests that normalize to the same
// idemPayload are the same request; anything else sharing a key is a
// conflict.
type idemPayload struct {
	UserID            string        `json:"user_id"`
	Date              string        `json:"date"`
	Description       string        `json:"description"`
	Document          *string       `json:"document,omitempty"`
	DocumentDate      *string       `json:"document_date,omitempty"`
	Party             *string       `json:"party,omitempty"`
	ReversalOf        *int64        `json:"reversal_of,omitempty"`
	ClientReferenceID *string       `json:"client_reference_id,omitempty"`
	TaxableAmount     *string       `json:"taxable_amount,omitempty"`
	VATRate           *string       `json:"vat_rate,omitempty"`
	VATAmount         *string       `json:"vat_amount,omitempty"`
	Lines             []domain.Line `json:"lines"`
}

func toIdemPayload(e domain.NormalizedEntry, userID string) idemPayload {
	return idemPayload{
		UserID: userID, Date: e.Date, Description: e.Description, Document: e.Document, DocumentDate: e.DocumentDate,
		Party: e.Party, ReversalOf: e.ReversalOf, ClientReferenceID: e.ClientReferenceID,
		TaxableAmount: centsPtrToDecimalPtr(e.TaxableCents), VATRate: e.VATRate,
		VATAmount: centsPtrToDecimalPtr(e.VATAmountCents), Lines: e.Lines,
	}
}

// Normalize converts every decimal money field of an EntryInput to
// integer cents. A malformed decimal literal yields an INVALID_INPUT
// error in the result rather than a Go error; malformed amounts are a
// rejected request, not an infrastructure failure.
func Normalize(in domain.EntryInput) (domain.NormalizedEntry, []domain.LedgerError) {
	var errs []domain.LedgerError
	lines := make([]domain.Line, 0, len(in.Lines))
	for _, li := range in.Lines {
		dare, err := money.ToCents(orZero(li.Dare))
		if err != nil {
			errs = append(errs, domain.NewError(domain.InvalidInput, fmt.Sprintf("account %s: invalid dare amount %q: %v", li.AccountCode, li.Dare, err)))
			continue
		}
		avere, err := money.ToCents(orZero(li.Avere))
		if err != nil {
			errs = append(errs, domain.NewError(domain.InvalidInput, fmt.Sprintf("account %s: invalid avere amount %q: %v", li.AccountCode, li.Avere, err)))
			continue
		}
		lines = append(lines, domain.Line{AccountCode: li.AccountCode, DareCents: dare, AvereCents: avere})
	}
	if len(in.Lines) == 0 {
		errs = append(errs, domain.NewError(domain.EmptyLines, "entry has no lines"))
	}

	taxable, err := money.ToCentsPtr(in.TaxableAmount)
	if err != nil {
		errs = append(errs, domain.NewError(domain.InvalidInput, fmt.Sprintf("invalid taxable amount %q: %v", *in.TaxableAmount, err)))
	}
	vatAmount, err := money.ToCentsPtr(in.VATAmount)
	if err != nil {
		errs = append(errs, domain.NewError(domain.InvalidInput, fmt.Sprintf("invalid vat amount %q: %v", *in.VATAmount, err)))
	}

	return domain.NormalizedEntry{
		Date: in.Date, Description: in.Description, Document: in.Document, DocumentDate: in.DocumentDate,
		Party: in.Party, ReversalOf: in.ReversalOf, ClientReferenceID: in.ClientReferenceID,
		TaxableCents: taxable, VATRate: in.VATRate, VATAmountCents: vatAmount, Lines: lines,
	}, errs
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Post runs the full posting pipeline for one EntryInput: normalize,
// validate, idempotence check, persist, audit. The validator runs
// first against committed reads, outside any transaction, so an entry
// that fails validation never takes the idempotence-key lock or opens
// a write transaction at all; only persistence (idempotence check,
// insert, audit) runs inside a single Serializable transaction,
// retried on a serialization failure or deadlock.
func (e *Engine) Post(ctx context.Context, in domain.EntryInput, userID string) domain.Result {
	normalized, normErrs := Normalize(in)
	if len(normErrs) > 0 {
		return domain.Failure(normErrs)
	}

	accounts := store.AccountRepoAdapter{Store: e.Store, Q: e.Pool}
	periods := store.PeriodRepoAdapter{Store: e.Store, Q: e.Pool}
	entries := store.EntryRepoAdapter{Store: e.Store, Q: e.Pool}

	valErrs, valErr := validator.Validate(ctx, normalized, accounts, periods, entries)
	if valErr != nil {
		return domain.FailureOne(domain.DBError, fmt.Sprintf("validate: %v", valErr))
	}
	if len(valErrs) > 0 {
		return domain.Failure(valErrs)
	}

	// The idempotence key is optional; when the caller omits it, the
	// entry posts unconditionally with no idempotence tracking rather
	// than being rejected.
	var payloadHash string
	trackIdempotence := in.IdempotenceKey != ""
	if trackIdempotence {
		payloadBytes, err := canon.Bytes(toIdemPayload(normalized, userID))
		if err != nil {
			return domain.FailureOne(domain.DBError, fmt.Sprintf("canonicalize entry: %v", err))
		}
		payloadHash = canon.HashBytes(payloadBytes)
	}

	series := DefaultSeries
	if normalized.ProtocolSeries != nil && *normalized.ProtocolSeries != "" {
		series = *normalized.ProtocolSeries
	}
	series = strings.ToUpper(series)
	year := normalized.Date[:4]

	var result domain.Result
	err := store.WithWriteTx(ctx, e.Pool, e.Retry, func(tx pgx.Tx) error {
		if trackIdempotence {
			if lockErr := e.Store.LockIdempotenceKey(ctx, tx, in.IdempotenceKey); lockErr != nil {
				return lockErr
			}

			existing, lookupErr := e.Store.IdempotenceLookup(ctx, tx, in.IdempotenceKey)
			if lookupErr != nil {
				return lookupErr
			}
			if existing != nil {
				if existing.PayloadHash != payloadHash {
					result = domain.FailureOne(domain.IdempotenceConflict,
						fmt.Sprintf("idempotence key %s already used with a different payload", in.IdempotenceKey))
					return nil
				}
				result = domain.Success(existing.EntryID, existing.Protocol)
				return nil
			}
		}

		protocolNo, protocolStr, protoErr := e.Store.NextProtocol(ctx, tx, year, series)
		if protoErr != nil {
			return fmt.Errorf("%w: %v", domain.NewError(domain.ProtocolError, "protocol allocation failed"), protoErr)
		}

		// client_reference_id defaults to the idempotence key when the
		// caller supplies a key but no reference of their own.
		if normalized.ClientReferenceID == nil && trackIdempotence {
			normalized.ClientReferenceID = &in.IdempotenceKey
		}

		entryID, insErr := e.Store.InsertEntry(ctx, tx, normalized, protocolStr, series, protocolNo, year, userID)
		if insErr != nil {
			return insErr
		}
		if linesErr := e.Store.InsertLines(ctx, tx, entryID, normalized.Lines); linesErr != nil {
			return linesErr
		}
		if normalized.ReversalOf != nil {
			if linkErr := e.Store.InsertReversalLink(ctx, tx, entryID, *normalized.ReversalOf); linkErr != nil {
				return linkErr
			}
		}
		if trackIdempotence {
			if idemErr := e.Store.IdempotenceInsert(ctx, tx, in.IdempotenceKey, payloadHash, entryID, protocolStr); idemErr != nil {
				return idemErr
			}
		}

		action := "POST"
		if normalized.ReversalOf != nil {
			action = "REVERSE"
		}
		// The audit payload is the idempotence payload plus the
		// protocol; Append adds the timestamp before hashing.
		auditDetail := struct {
			idemPayload
			Protocol string `json:"protocol"`
		}{toIdemPayload(normalized, userID), protocolStr}
		if auditErr := audit.Append(ctx, e.Store, tx, &entryID, action, userID, auditDetail); auditErr != nil {
			return auditErr
		}

		result = domain.Success(entryID, protocolStr)
		return nil
	})
	if err != nil {
		var ledgerErr domain.LedgerError
		if errors.As(err, &ledgerErr) {
			return domain.FailureOne(ledgerErr.Kind, ledgerErr.Message)
		}
		return domain.FailureOne(domain.DBError, fmt.Sprintf("posting transaction failed: %T: %v", err, err))
	}
	return result
}

// BuildReversal constructs the EntryInput for reversing entryID: same
// lines with dare/avere swapped, description prefixed, dated today. A
// reversal is a new, forward-dated entry, never a retroactive edit.
// An empty idempotenceKey falls back to the deterministic default
// "REV:{date}:{original_doc}:{description}", so retrying the same
// reversal on the same day replays instead of double-posting.
func (e *Engine) BuildReversal(ctx context.Context, entryID int64, idempotenceKey, reason string) (domain.EntryInput, error) {
	original, err := e.Store.GetEntry(ctx, e.Pool, entryID)
	if err != nil {
		return domain.EntryInput{}, err
	}
	if original == nil {
		return domain.EntryInput{}, store.ErrNotFound
	}

	lines := make([]domain.LineInput, len(original.Lines))
	for i, l := range original.Lines {
		lines[i] = domain.LineInput{
			AccountCode: l.AccountCode,
			Dare:        money.FormatCents(l.AvereCents),
			Avere:       money.FormatCents(l.DareCents),
		}
	}

	desc := "Reversal of " + original.Protocol
	if reason != "" {
		desc += ": " + reason
	}

	today := e.Clock().UTC().Format("2006-01-02")
	if idempotenceKey == "" {
		originalDoc := original.Protocol
		if original.Document != nil && *original.Document != "" {
			originalDoc = *original.Document
		}
		idempotenceKey = fmt.Sprintf("REV:%s:%s:%s", today, originalDoc, desc)
	}
	return domain.EntryInput{
		Date:           today,
		Description:    desc,
		Document:       original.Document,
		DocumentDate:   original.DocumentDate,
		Party:          original.Party,
		ReversalOf:     &entryID,
		TaxableAmount:  centsPtrToDecimalPtr(original.TaxableCents),
		VATRate:        original.VATRate,
		VATAmount:      centsPtrToDecimalPtr(original.VATAmountCents),
		Lines:          lines,
		IdempotenceKey: idempotenceKey,
	}, nil
}

// centsPtrToDecimalPtr inverts money.ToCentsPtr for BuildReversal, which
// reads cents back off the stored entry and must hand the posting
// pipeline decimal strings again so the reversal's VAT fields go
// through the same normalize→validate path as any other entry.
func centsPtrToDecimalPtr(cents *int64) *string {
	if cents == nil {
		return nil
	}
	s := money.FormatCents(*cents)
	return &s
}
