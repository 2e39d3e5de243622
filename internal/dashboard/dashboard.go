// Package dashboard serves the read-only HTTP status surface described in
// SPEC_FULL.md §6 and §11: GET /status, GET /status/{symbol}, GET /healthz.
// Grounded on the teacher's internal/dashboard/server.go (chi router, JSON
// response idiom) but much lighter — no templates, no embedded assets, no
// mutating routes, since this archiver has nothing for an operator to do
// but watch.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lamweiwei/bardrifter/internal/ledger"
	"github.com/lamweiwei/bardrifter/internal/scheduler"
)

// Snapshotter is the subset of the scheduler the dashboard reads from.
type Snapshotter interface {
	Snapshot() scheduler.Snapshot
}

// SymbolSummarizer is the subset of the ledger the per-symbol route reads
// from.
type SymbolSummarizer interface {
	Summary(symbol string) (ledger.Summary, error)
}

// Server wraps a chi router over the scheduler's snapshot and the ledger's
// per-symbol summaries.
type Server struct {
	router *chi.Mux
}

// New builds the router. bindAddr is not bound here; the caller owns the
// http.Server lifecycle so it can participate in the same shutdown sequence
// as everything else (SPEC_FULL.md §4.9).
func New(snapshot Snapshotter, summaries SymbolSummarizer) *Server {
	s := &Server{router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus(snapshot))
	s.router.Get("/status/{symbol}", s.handleSymbolStatus(summaries))
	return s
}

// ServeHTTP satisfies http.Handler so Server can be passed straight to
// http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	CurrentSymbol    string `json:"current_symbol"`
	CurrentDate      string `json:"current_date"`
	SymbolsCompleted int    `json:"symbols_completed"`
	SymbolsTotal     int    `json:"symbols_total"`
	DatesCompleted   int    `json:"dates_completed"`
	DatesTotal       int    `json:"dates_total"`
	ETASeconds       int64  `json:"eta_seconds"`
}

func (s *Server) handleStatus(snapshot Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := snapshot.Snapshot()
		writeJSON(w, http.StatusOK, statusResponse{
			CurrentSymbol: snap.CurrentSymbol, CurrentDate: snap.CurrentDate,
			SymbolsCompleted: snap.SymbolsCompleted, SymbolsTotal: snap.SymbolsTotal,
			DatesCompleted: snap.DatesCompleted, DatesTotal: snap.DatesTotal,
			ETASeconds: int64(snap.ETA / time.Second),
		})
	}
}

type symbolStatusResponse struct {
	Symbol        string   `json:"symbol"`
	Total         int      `json:"total"`
	Completed     int      `json:"completed"`
	Errors        int      `json:"errors"`
	SuccessRate   float64  `json:"success_rate"`
	OldestSuccess *string  `json:"oldest_success,omitempty"`
}

func (s *Server) handleSymbolStatus(summaries SymbolSummarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := chi.URLParam(r, "symbol")
		summary, err := summaries.Summary(symbol)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		resp := symbolStatusResponse{
			Symbol: symbol, Total: summary.Total, Completed: summary.Completed,
			Errors: summary.Errors, SuccessRate: summary.SuccessRate,
		}
		if summary.OldestSuccess != nil {
			formatted := summary.OldestSuccess.Format("2006-01-02")
			resp.OldestSuccess = &formatted
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
