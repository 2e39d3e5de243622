package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lamweiwei/bardrifter/internal/ledger"
	"github.com/lamweiwei/bardrifter/internal/scheduler"
)

type fixedSnapshot struct{ snap scheduler.Snapshot }

func (f fixedSnapshot) Snapshot() scheduler.Snapshot { return f.snap }

type fixedSummaries struct {
	summaries map[string]ledger.Summary
}

func (f fixedSummaries) Summary(symbol string) (ledger.Summary, error) {
	s, ok := f.summaries[symbol]
	if !ok {
		return ledger.Summary{}, errNotFound{symbol}
	}
	return s, nil
}

type errNotFound struct{ symbol string }

func (e errNotFound) Error() string { return "unknown symbol: " + e.symbol }

func TestHealthz(t *testing.T) {
	srv := New(fixedSnapshot{}, fixedSummaries{summaries: map[string]ledger.Summary{}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	snap := scheduler.Snapshot{
		CurrentSymbol: "AAPL", CurrentDate: "2024-01-02",
		SymbolsCompleted: 1, SymbolsTotal: 3, DatesCompleted: 10, DatesTotal: 40,
		ETA: 90 * time.Second,
	}
	srv := New(fixedSnapshot{snap: snap}, fixedSummaries{summaries: map[string]ledger.Summary{}})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CurrentSymbol != "AAPL" || body.ETASeconds != 90 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSymbolStatusKnownAndUnknown(t *testing.T) {
	summaries := fixedSummaries{summaries: map[string]ledger.Summary{
		"AAPL": {Total: 10, Completed: 9, Errors: 1, SuccessRate: 90},
	}}
	srv := New(fixedSnapshot{}, summaries)

	req := httptest.NewRequest(http.MethodGet, "/status/AAPL", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200 for known symbol, got %d", rec.Code)
	}
	var body symbolStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Completed != 9 || body.SuccessRate != 90 {
		t.Fatalf("unexpected body: %+v", body)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/status/NOPE", nil)
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("want 404 for unknown symbol, got %d", rec2.Code)
	}
}
