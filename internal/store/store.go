// Package store is the storage layer: a transactional row store over
// Postgres that the validator reads through and the posting engine
// writes through. It owns the read-only repositories the validator
// consumes, protocol allocation, the idempotence table, and entry
// reconstruction. The audit chain is layered on top in internal/audit,
// calling back into the row-level helpers here.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledgerpost/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// repository method run either standalone (read-only checks outside a
// transaction) or inside the posting engine's single write transaction,
// without duplicating the SQL for each case.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// --- Accounts (validator.AccountRepo) ---

func (s *Store) AccountExists(ctx context.Context, q Queryer, code string) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM accounts WHERE code = $1 LIMIT 1`, code).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetAccount(ctx context.Context, q Queryer, code string) (domain.Account, error) {
	var a domain.Account
	err := q.QueryRow(ctx, `SELECT code, name, statement_type FROM accounts WHERE code=$1`, code).
		Scan(&a.Code, &a.Name, &a.StatementType)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, ErrNotFound
	}
	return a, err
}

// --- Periods (validator.PeriodRepo) ---

// IsPeriodOpenByDate defines "open" by the absence of any closed or
// finalized period covering the date.
func (s *Store) IsPeriodOpenByDate(ctx context.Context, q Queryer, isoDate string) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `
		SELECT 1 FROM periods
		WHERE status IN ('closed','finalized')
		  AND $1::date BETWEEN start_date AND end_date
		LIMIT 1
	`, isoDate).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) GetPeriod(ctx context.Context, q Queryer, year string, month *string) (*domain.Period, error) {
	var p domain.Period
	err := q.QueryRow(ctx, `
		SELECT year, month, start_date::text, end_date::text, status
		FROM periods WHERE year=$1 AND month IS NOT DISTINCT FROM $2
	`, year, month).Scan(&p.Year, &p.Month, &p.StartDate, &p.EndDate, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdatePeriodStatus(ctx context.Context, q Queryer, year string, month *string, status domain.PeriodStatus) error {
	_, err := q.Exec(ctx, `
		UPDATE periods SET status=$3 WHERE year=$1 AND month IS NOT DISTINCT FROM $2
	`, year, month, status)
	return err
}

func (s *Store) InsertPeriodIfMissing(ctx context.Context, q Queryer, year string, month *string, start, end string, status domain.PeriodStatus) error {
	_, err := q.Exec(ctx, `
		INSERT INTO periods(year, month, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, year, month, start, end, status)
	return err
}

// MonthlyPeriodStatuses returns the status of every monthly (month IS
// NOT NULL) period row for a year, used by finalize_year.
func (s *Store) MonthlyPeriodStatuses(ctx context.Context, q Queryer, year string) ([]domain.PeriodStatus, error) {
	rows, err := q.Query(ctx, `SELECT status FROM periods WHERE year=$1 AND month IS NOT NULL`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PeriodStatus
	for rows.Next() {
		var st domain.PeriodStatus
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- Entries (validator.EntryRepo + posting writes) ---

func (s *Store) EntryExists(ctx context.Context, q Queryer, id int64) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM entries WHERE id=$1 LIMIT 1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) HasReversalFor(ctx context.Context, q Queryer, originalEntryID int64) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM entries WHERE reversal_of=$1 LIMIT 1`, originalEntryID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NextProtocol atomically allocates the next protocol number for
// (year, series) and returns it formatted as YYYY/SERIES/NNNNNN. The
// allocation is a single upsert-and-return statement, transactionally
// tied to the caller's insert: when the surrounding transaction rolls
// back, so does the increment, so committed sequences are gapless, not
// merely monotonic.
func (s *Store) NextProtocol(ctx context.Context, q Queryer, year, series string) (int64, string, error) {
	var counter int64
	err := q.QueryRow(ctx, `
		INSERT INTO protocol_counters(year, series, counter) VALUES ($1, $2, 1)
		ON CONFLICT (year, series) DO UPDATE SET counter = protocol_counters.counter + 1
		RETURNING counter
	`, year, series).Scan(&counter)
	if err != nil {
		return 0, "", err
	}
	return counter, fmt.Sprintf("%s/%s/%06d", year, series, counter), nil
}

func (s *Store) InsertEntry(ctx context.Context, q Queryer, e domain.NormalizedEntry, protocol, series string, protocolNo int64, year, createdBy string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO entries (
			date, year, protocol, protocol_series, protocol_no,
			document, document_date, party, description, created_by,
			reversal_of, client_reference_id,
			taxable_amount_cents, vat_rate, vat_amount_cents
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`,
		e.Date, year, protocol, series, protocolNo,
		e.Document, e.DocumentDate, e.Party, e.Description, createdBy,
		e.ReversalOf, e.ClientReferenceID,
		e.TaxableCents, e.VATRate, e.VATAmountCents,
	).Scan(&id)
	return id, err
}

func (s *Store) InsertLines(ctx context.Context, q Queryer, entryID int64, lines []domain.Line) error {
	for _, l := range lines {
		_, err := q.Exec(ctx, `
			INSERT INTO entry_lines (entry_id, account_code, dare_cents, avere_cents)
			VALUES ($1,$2,$3,$4)
		`, entryID, l.AccountCode, l.DareCents, l.AvereCents)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertReversalLink(ctx context.Context, q Queryer, entryID, reversalOf int64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO entry_reversals (entry_id, reversal_of) VALUES ($1,$2)
	`, entryID, reversalOf)
	return err
}

// --- Idempotence ---

type IdemRow struct {
	PayloadHash string
	EntryID     int64
	Protocol    string
}

// IdempotenceLookup must be called after taking the key's advisory lock
// (see internal/posting) so a concurrent caller racing on the same key
// blocks rather than both missing and both inserting.
func (s *Store) IdempotenceLookup(ctx context.Context, q Queryer, key string) (*IdemRow, error) {
	var r IdemRow
	err := q.QueryRow(ctx,
		`SELECT payload_hash, entry_id, protocol FROM idempotence WHERE key=$1`, key,
	).Scan(&r.PayloadHash, &r.EntryID, &r.Protocol)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) IdempotenceInsert(ctx context.Context, q Queryer, key, payloadHash string, entryID int64, protocol string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO idempotence (key, payload_hash, entry_id, protocol) VALUES ($1,$2,$3,$4)
	`, key, payloadHash, entryID, protocol)
	return err
}

// LockIdempotenceKey takes a transaction-scoped advisory lock keyed by
// the idempotence key: it serializes concurrent callers presenting the
// same key without taking a table-level lock on the idempotence table
// itself.
func (s *Store) LockIdempotenceKey(ctx context.Context, q Queryer, key string) error {
	_, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

// --- Query repository (C10) ---

func (s *Store) GetEntry(ctx context.Context, q Queryer, id int64) (*domain.Entry, error) {
	var e domain.Entry
	err := q.QueryRow(ctx, `
		SELECT id, date::text, year, protocol, protocol_series, protocol_no,
		       document, document_date, party, description, created_by,
		       reversal_of, client_reference_id,
		       taxable_amount_cents, vat_rate, vat_amount_cents
		FROM entries WHERE id=$1
	`, id).Scan(
		&e.ID, &e.Date, &e.Year, &e.Protocol, &e.ProtocolSeries, &e.ProtocolNo,
		&e.Document, &e.DocumentDate, &e.Party, &e.Description, &e.CreatedBy,
		&e.ReversalOf, &e.ClientReferenceID,
		&e.TaxableCents, &e.VATRate, &e.VATAmountCents,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines, err := s.GetEntryLines(ctx, q, id)
	if err != nil {
		return nil, err
	}
	e.Lines = lines
	return &e, nil
}

func (s *Store) GetEntryLines(ctx context.Context, q Queryer, entryID int64) ([]domain.Line, error) {
	rows, err := q.Query(ctx, `
		SELECT account_code, dare_cents, avere_cents FROM entry_lines WHERE entry_id=$1 ORDER BY id
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Line
	for rows.Next() {
		var l domain.Line
		if err := rows.Scan(&l.AccountCode, &l.DareCents, &l.AvereCents); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReversalOfEntry returns the entry ID a given entry reverses, if any.
func (s *Store) ReversalOfEntry(ctx context.Context, q Queryer, entryID int64) (*int64, error) {
	var reversalOf int64
	err := q.QueryRow(ctx, `SELECT reversal_of FROM entry_reversals WHERE entry_id=$1`, entryID).Scan(&reversalOf)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reversalOf, nil
}

// TrialBalance computes, per account touched by entries dated within
// [start, end], the net balance classified by its natural side:
// ASSET/EXPENSE are debit-natured, LIABILITY/EQUITY/REVENUE are
// credit-natured.
func (s *Store) TrialBalance(ctx context.Context, q Queryer, start, end string) ([]domain.TrialBalanceLine, error) {
	rows, err := q.Query(ctx, `
		SELECT a.code, a.statement_type,
		       COALESCE(SUM(el.dare_cents), 0), COALESCE(SUM(el.avere_cents), 0)
		FROM accounts a
		LEFT JOIN (entry_lines el
		           JOIN entries e ON e.id = el.entry_id AND e.date BETWEEN $1::date AND $2::date)
		       ON el.account_code = a.code
		GROUP BY a.code, a.statement_type
		HAVING COALESCE(SUM(el.dare_cents), 0) != 0 OR COALESCE(SUM(el.avere_cents), 0) != 0
		ORDER BY a.code
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrialBalanceLine
	for rows.Next() {
		var code string
		var st domain.StatementType
		var dare, avere int64
		if err := rows.Scan(&code, &st, &dare, &avere); err != nil {
			return nil, err
		}
		out = append(out, classifyBalance(code, st, dare, avere))
	}
	return out, rows.Err()
}

func classifyBalance(code string, st domain.StatementType, dareCents, avereCents int64) domain.TrialBalanceLine {
	debitNatured := st == domain.Asset || st == domain.Expense

	var net int64
	if debitNatured {
		net = dareCents - avereCents
	} else {
		net = avereCents - dareCents
	}

	side := domain.Debit
	if !debitNatured {
		side = domain.Credit
	}
	amount := net
	if net < 0 {
		amount = -net
		if debitNatured {
			side = domain.Credit
		} else {
			side = domain.Debit
		}
	}
	return domain.TrialBalanceLine{AccountCode: code, StatementType: st, Side: side, AmountCents: amount}
}

// --- Audit log (backing store for internal/audit) ---

func (s *Store) LatestAuditHash(ctx context.Context, q Queryer, entryID *int64) (*string, error) {
	var hash string
	err := q.QueryRow(ctx, `
		SELECT curr_hash FROM audit_log
		WHERE entry_id IS NOT DISTINCT FROM $1
		ORDER BY id DESC LIMIT 1
	`, entryID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

func (s *Store) InsertAuditRow(ctx context.Context, q Queryer, entryID *int64, action, userID, payload string, prevHash *string, currHash string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO audit_log (entry_id, action, user_id, payload, prev_hash, curr_hash)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entryID, action, userID, payload, prevHash, currHash)
	return err
}

type AuditRow struct {
	ID       int64
	EntryID  *int64
	Action   string
	UserID   string
	Payload  string
	PrevHash *string
	CurrHash string
}

// ListAuditRows returns the full chain in insertion order (by id),
// which is the order verify_chain must re-derive hashes in.
func (s *Store) ListAuditRows(ctx context.Context, q Queryer) ([]AuditRow, error) {
	rows, err := q.Query(ctx, `
		SELECT id, entry_id, action, user_id, payload, prev_hash, curr_hash
		FROM audit_log ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.EntryID, &r.Action, &r.UserID, &r.Payload, &r.PrevHash, &r.CurrHash); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAuditRowsForEntry returns one entry's own hash chain in insertion
// order, scoped by entry_id, so it can be re-derived and verified
// independent of every other entry's chain or the period-level chain
// (entry_id IS NULL).
func (s *Store) ListAuditRowsForEntry(ctx context.Context, q Queryer, entryID int64) ([]AuditRow, error) {
	rows, err := q.Query(ctx, `
		SELECT id, entry_id, action, user_id, payload, prev_hash, curr_hash
		FROM audit_log WHERE entry_id = $1 ORDER BY id ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.EntryID, &r.Action, &r.UserID, &r.Payload, &r.PrevHash, &r.CurrHash); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
