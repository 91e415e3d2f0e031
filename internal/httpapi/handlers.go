package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerpost/internal/audit"
	"ledgerpost/internal/closures"
	"ledgerpost/internal/domain"
	"ledgerpost/internal/posting"
	"ledgerpost/internal/store"
)

type Handlers struct {
	store    *store.Store
	posting  *posting.Engine
	closures *closures.Engine
}

func NewHandlers(st *store.Store, p *posting.Engine, c *closures.Engine) *Handlers {
	return &Handlers{store: st, posting: p, closures: c}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeResult(w http.ResponseWriter, okCode int, res domain.Result) {
	if res.Success {
		writeJSON(w, okCode, res)
		return
	}
	writeJSON(w, httpStatusForResult(res), res)
}

// httpStatusForResult maps a failed domain.Result's leading error kind
// to a status code. Kinds representing a malformed or illegal request
// map to 4xx; DB_ERROR and anything unrecognized map to 5xx so callers
// never mistake an infrastructure failure for a rejected entry.
func httpStatusForResult(res domain.Result) int {
	if len(res.ErrorDetails) == 0 {
		return http.StatusInternalServerError
	}
	switch res.ErrorDetails[0].Kind {
	case domain.NotFound:
		return http.StatusNotFound
	case domain.IdempotenceConflict, domain.AlreadyReversed:
		return http.StatusConflict
	case domain.DBError, domain.ProtocolError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}

type postEntryRequest struct {
	Date              string             `json:"date"`
	Description       string             `json:"description"`
	Document          *string            `json:"document,omitempty"`
	DocumentDate      *string            `json:"document_date,omitempty"`
	Party             *string            `json:"party,omitempty"`
	ClientReferenceID *string            `json:"client_reference_id,omitempty"`
	ProtocolSeries    *string            `json:"protocol_series,omitempty"`
	TaxableAmount     *string            `json:"taxable_amount,omitempty"`
	VATRate           *string            `json:"vat_rate,omitempty"`
	VATAmount         *string            `json:"vat_amount,omitempty"`
	Lines             []postLineRequest  `json:"lines"`
	IdempotenceKey    string             `json:"idempotence_key"`
}

type postLineRequest struct {
	AccountCode string `json:"account_code"`
	Dare        string `json:"dare,omitempty"`
	Avere       string `json:"avere,omitempty"`
}

// PostEntry handles POST /v1/entries.
func (h *Handlers) PostEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req postEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = "anonymous"
	}
	if req.IdempotenceKey == "" {
		req.IdempotenceKey = r.Header.Get("X-Idempotence-Key")
	}
	if req.IdempotenceKey == "" {
		req.IdempotenceKey = uuid.New().String()
	}

	lines := make([]domain.LineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = domain.LineInput{AccountCode: l.AccountCode, Dare: l.Dare, Avere: l.Avere}
	}

	in := domain.EntryInput{
		Date: req.Date, Description: req.Description, Document: req.Document, DocumentDate: req.DocumentDate,
		Party: req.Party, ClientReferenceID: req.ClientReferenceID, ProtocolSeries: req.ProtocolSeries,
		TaxableAmount: req.TaxableAmount, VATRate: req.VATRate, VATAmount: req.VATAmount,
		Lines: lines, IdempotenceKey: req.IdempotenceKey,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := h.posting.Post(ctx, in, userID)
	writeResult(w, http.StatusCreated, res)
}

type reverseEntryRequest struct {
	IdempotenceKey string `json:"idempotence_key"`
	Reason         string `json:"reason,omitempty"`
}

// ReverseEntry handles POST /v1/entries/{id}/reverse.
func (h *Handlers) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, ok := entryIDFromPath(r.URL.Path, "/reverse")
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	var req reverseEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = "anonymous"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// An empty key lets BuildReversal derive its deterministic default
	// ("REV:{date}:{original_doc}:{description}") instead of masking
	// it with a fresh random key on every call.
	in, err := h.posting.BuildReversal(ctx, id, req.IdempotenceKey, req.Reason)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}

	res := h.posting.Post(ctx, in, userID)
	writeResult(w, http.StatusCreated, res)
}

// GetEntry handles GET /v1/entries/{id}.
func (h *Handlers) GetEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := entryIDFromPath(r.URL.Path, "")
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entry, err := h.store.GetEntry(ctx, h.store.Pool, id)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}
	if entry == nil {
		writeErr(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func entryIDFromPath(path, suffix string) (int64, bool) {
	path = strings.TrimPrefix(path, "/v1/entries/")
	path = strings.TrimSuffix(path, suffix)
	if path == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type periodRequest struct {
	Year  string  `json:"year"`
	Month *string `json:"month,omitempty"`
}

type accrualRequest struct {
	Description    string `json:"description"`
	Date           string `json:"date"`
	ExpenseAccount string `json:"expense_account"`
	PayableAccount string `json:"payable_account"`
	Amount         string `json:"amount"`
}

type deferralRequest struct {
	Description    string `json:"description"`
	Date           string `json:"date"`
	PrepaidAccount string `json:"prepaid_account"`
	ExpenseAccount string `json:"expense_account"`
	Amount         string `json:"amount"`
}

type amortizationRequest struct {
	Description                string `json:"description"`
	Date                       string `json:"date"`
	AssetAccount               string `json:"asset_account"`
	AmortizationExpenseAccount string `json:"amortization_expense_account"`
	Amount                     string `json:"amount"`
}

type closePeriodRequest struct {
	Year          string                `json:"year"`
	Month         *string               `json:"month,omitempty"`
	Accruals      []accrualRequest      `json:"accruals,omitempty"`
	Deferrals     []deferralRequest     `json:"deferrals,omitempty"`
	Amortizations []amortizationRequest `json:"amortizations,omitempty"`
}

// ClosePeriod handles POST /v1/periods/close. Accruals, deferrals, and
// amortizations are explicit, caller-supplied adjustment lists — none
// are inferred — posted on series ADJ before the closing entry.
func (h *Handlers) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req closePeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID := userIDOrAnonymous(r)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	adj := domain.ClosureAdjustments{}
	for _, a := range req.Accruals {
		adj.Accruals = append(adj.Accruals, domain.AccrualItem{
			Description: a.Description, Date: a.Date,
			ExpenseAccount: a.ExpenseAccount, PayableAccount: a.PayableAccount, Amount: a.Amount,
		})
	}
	for _, d := range req.Deferrals {
		adj.Deferrals = append(adj.Deferrals, domain.DeferralItem{
			Description: d.Description, Date: d.Date,
			PrepaidAccount: d.PrepaidAccount, ExpenseAccount: d.ExpenseAccount, Amount: d.Amount,
		})
	}
	for _, am := range req.Amortizations {
		adj.Amortizations = append(adj.Amortizations, domain.AmortizationItem{
			Description: am.Description, Date: am.Date,
			AssetAccount: am.AssetAccount, AmortizationExpenseAccount: am.AmortizationExpenseAccount, Amount: am.Amount,
		})
	}

	res := h.closures.ClosePeriod(ctx, req.Year, req.Month, userID, adj)
	writeResult(w, http.StatusOK, res)
}

// FinalizeYear handles POST /v1/periods/finalize.
func (h *Handlers) FinalizeYear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req periodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID := userIDOrAnonymous(r)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res := h.closures.FinalizeYear(ctx, req.Year, userID)
	writeResult(w, http.StatusOK, res)
}

// OpenPeriod handles POST /v1/periods/open.
func (h *Handlers) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req periodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	userID := userIDOrAnonymous(r)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res := h.closures.OpenNewPeriod(ctx, req.Year, userID)
	writeResult(w, http.StatusOK, res)
}

// TrialBalance handles GET /v1/trial-balance?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (h *Handlers) TrialBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" || end == "" {
		writeErr(w, http.StatusBadRequest, "start and end query parameters are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	lines, err := h.closures.TrialBalance(ctx, start, end)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// VerifyAuditChain handles GET /v1/audit/verify.
func (h *Handlers) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := audit.VerifyChain(ctx, h.store, h.store.Pool)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// VerifyEntryAuditChain handles GET /v1/entries/{id}/audit/verify:
// verification scoped to one entry's own chain rather than the whole
// audit_log table.
func (h *Handlers) VerifyEntryAuditChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, ok := entryIDFromPath(r.URL.Path, "/audit/verify")
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	result, err := audit.VerifyChainForEntry(ctx, h.store, h.store.Pool, id)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func userIDOrAnonymous(r *http.Request) string {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		return "anonymous"
	}
	return userID
}
