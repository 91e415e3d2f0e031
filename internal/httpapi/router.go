package httpapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

func Router(h *Handlers) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/v1/entries", h.PostEntry)             // POST
	mux.HandleFunc("/v1/entries/", h.entryByID)            // GET /v1/entries/{id}, POST .../reverse, GET .../audit/verify
	mux.HandleFunc("/v1/periods/close", h.ClosePeriod)     // POST
	mux.HandleFunc("/v1/periods/finalize", h.FinalizeYear) // POST
	mux.HandleFunc("/v1/periods/open", h.OpenPeriod)       // POST
	mux.HandleFunc("/v1/trial-balance", h.TrialBalance)    // GET
	mux.HandleFunc("/v1/audit/verify", h.VerifyAuditChain) // GET

	// Backpressure at the edge.
	// Prevents unbounded goroutine/pool queueing when DB is saturated.
	max := mustIntEnv("LEDGER_HTTP_MAX_INFLIGHT", 64)
	return withConcurrencyLimit(mux, max)
}

// entryByID dispatches the three shapes under /v1/entries/ by suffix,
// since http.ServeMux's pattern matching (pre-1.22 style,
// method-agnostic) can't express that split directly.
func (h *Handlers) entryByID(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/reverse"):
		h.ReverseEntry(w, r)
	case strings.HasSuffix(r.URL.Path, "/audit/verify"):
		h.VerifyEntryAuditChain(w, r)
	default:
		h.GetEntry(w, r)
	}
}

func mustIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
		}
	})
}
