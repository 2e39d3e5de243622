package ibclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

func TestAPIErrorError(t *testing.T) {
	err := &APIError{Status: 503, Body: "gateway down"}
	want := "ibclient: gateway returned 503: gateway down"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestConnectSendsClientID(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClientID = r.URL.Query().Get("clientId")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL, 7, time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if gotClientID != "7" {
		t.Fatalf("want clientId=7, got %q", gotClientID)
	}
}

func TestConnectNonOKIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down for maintenance"))
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL, 1, time.Second)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("want *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", apiErr.Status)
	}
}

func TestFetchBarsDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["symbol"] != "AAPL" {
			t.Errorf("want symbol AAPL in request body, got %v", body["symbol"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(barsResponse{Bars: []wireBar{
			{TimestampUTC: "2024-01-02T14:30:00Z", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100, BarCount: 1},
		}})
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL, 1, time.Second)
	contract := domain.Contract{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"}
	bars, err := c.FetchBars(context.Background(), contract, time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 1.5 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
}

func TestEarliestDataTimestampUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(earliestResponse{Available: false})
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL, 1, time.Second)
	contract := domain.Contract{Symbol: "NEWIPO", SecType: "STK"}
	_, ok, err := c.EarliestDataTimestamp(context.Background(), contract)
	if err != nil {
		t.Fatalf("EarliestDataTimestamp: %v", err)
	}
	if ok {
		t.Fatal("want ok=false for an unavailable symbol")
	}
}

func TestEarliestDataTimestampAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(earliestResponse{Available: true, TimestampUTC: "2019-05-01T00:00:00Z"})
	}))
	defer srv.Close()

	c := NewWithBaseURL(srv.URL, 1, time.Second)
	contract := domain.Contract{Symbol: "AAPL", SecType: "STK"}
	ts, ok, err := c.EarliestDataTimestamp(context.Background(), contract)
	if err != nil {
		t.Fatalf("EarliestDataTimestamp: %v", err)
	}
	if !ok {
		t.Fatal("want ok=true")
	}
	if ts.Year() != 2019 {
		t.Fatalf("unexpected timestamp: %v", ts)
	}
}
