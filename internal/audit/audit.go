// Package audit implements the append-only audit hash chain: every
// mutating action (post, reverse, close period, finalize year, open
// period) appends one row whose curr_hash is the SHA-256 of its
// canonical payload and whose prev_hash pins the previous row for the
// same entry, so altering or deleting any row breaks the chain from
// that point forward. VerifyChain re-derives every hash from the
// stored payloads and reports the first break, if any.
package audit

import (
	"context"
	"fmt"
	"time"

	"ledgerpost/internal/canon"
	"ledgerpost/internal/store"
)

// Payload is the canonicalized, hashed content of one audit row.
// Append attaches a UTC ISO-8601 timestamp to the payload before
// hashing, so the timestamp is part of what curr_hash covers. The
// idempotence content hash (internal/posting) deliberately excludes
// timestamp and protocol so replay detection stays insensitive to
// clock and numbering.
type Payload struct {
	Action    string `json:"action"`
	EntryID   *int64 `json:"entry_id"`
	UserID    string `json:"user_id"`
	Detail    any    `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Append writes one audit row inside the caller's transaction. The new
// row's prev_hash is the curr_hash of the latest prior row for the
// same entryID; the first row of an entry's chain, and every row with
// a nil entryID (period-level actions like finalize_year), carries a
// null prev_hash.
func Append(ctx context.Context, st *store.Store, q store.Queryer, entryID *int64, action, userID string, detail any) error {
	payload := Payload{Action: action, EntryID: entryID, UserID: userID, Detail: detail, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	payloadBytes, err := canon.Bytes(payload)
	if err != nil {
		return fmt.Errorf("canonicalize audit payload: %w", err)
	}

	var prevHash *string
	if entryID != nil {
		prevHash, err = st.LatestAuditHash(ctx, q, entryID)
		if err != nil {
			return fmt.Errorf("read previous audit hash: %w", err)
		}
	}

	currHash := canon.HashBytes(payloadBytes)

	return st.InsertAuditRow(ctx, q, entryID, action, userID, string(payloadBytes), prevHash, currHash)
}

// Break describes the first point in the chain where a stored row no
// longer matches its re-derived state.
type Break struct {
	RowID       int64  `json:"row_id"`
	Expected    string `json:"expected"`
	Stored      string `json:"stored"`
	MissingLink bool   `json:"missing_link"` // prev_hash column doesn't match the previous row's curr_hash
}

// VerifyResult is the outcome of walking a set of audit rows.
type VerifyResult struct {
	RowsChecked int    `json:"rows_checked"`
	Break       *Break `json:"break,omitempty"`
}

func (r VerifyResult) OK() bool { return r.Break == nil }

// VerifyChain re-derives curr_hash for every row in insertion order,
// grouped by its entry_id chain, and confirms prev_hash linkage. It
// returns the first row where either check fails. This is the global
// scan; use VerifyChainForEntry to check one entry's chain in
// isolation from every other entry's.
func VerifyChain(ctx context.Context, st *store.Store, q store.Queryer) (VerifyResult, error) {
	rows, err := st.ListAuditRows(ctx, q)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyRows(rows), nil
}

// VerifyChainForEntry re-derives curr_hash for entryID's own chain
// only, scoped by entry_id, so that a tampered row belonging to an
// unrelated entry cannot make this entry's chain report broken.
func VerifyChainForEntry(ctx context.Context, st *store.Store, q store.Queryer, entryID int64) (VerifyResult, error) {
	rows, err := st.ListAuditRowsForEntry(ctx, q, entryID)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyRows(rows), nil
}

// verifyRows checks, for each row in id order: curr_hash equals the
// SHA-256 of the stored payload, and prev_hash equals the preceding
// curr_hash in the same entry_id chain (null for a chain's first row
// and for every nil-entry row, which do not chain to each other).
func verifyRows(rows []store.AuditRow) VerifyResult {
	lastHashByEntry := map[int64]string{}

	for i, row := range rows {
		var expectedPrev *string
		if row.EntryID != nil {
			if prev, ok := lastHashByEntry[*row.EntryID]; ok {
				expectedPrev = &prev
			}
		}

		if !prevMatches(row.PrevHash, expectedPrev) {
			return VerifyResult{RowsChecked: i, Break: &Break{
				RowID: row.ID, MissingLink: true, Stored: derefOrEmpty(row.PrevHash), Expected: derefOrEmpty(expectedPrev),
			}}
		}

		derived := canon.HashBytes([]byte(row.Payload))
		if derived != row.CurrHash {
			return VerifyResult{RowsChecked: i + 1, Break: &Break{
				RowID: row.ID, Expected: derived, Stored: row.CurrHash,
			}}
		}

		if row.EntryID != nil {
			lastHashByEntry[*row.EntryID] = row.CurrHash
		}
	}

	return VerifyResult{RowsChecked: len(rows)}
}

func prevMatches(stored, expected *string) bool {
	if stored == nil || expected == nil {
		return stored == nil && expected == nil
	}
	return *stored == *expected
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
