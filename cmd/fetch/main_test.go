package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/lamweiwei/bardrifter/internal/contracts"
	"github.com/lamweiwei/bardrifter/internal/domain"
	"github.com/lamweiwei/bardrifter/internal/fetch"
	"github.com/lamweiwei/bardrifter/internal/ledger"
	"github.com/sirupsen/logrus"
)

func TestResolveConfigFlagEnvironmentNames(t *testing.T) {
	for _, env := range []string{"dev", "test", "prod"} {
		path, gotEnv := resolveConfigFlag(env)
		if path != "config/settings.yaml" || gotEnv != env {
			t.Fatalf("resolveConfigFlag(%q) = (%q, %q)", env, path, gotEnv)
		}
	}
}

func TestResolveConfigFlagExplicitPath(t *testing.T) {
	path, env := resolveConfigFlag("/etc/bardrifter/settings.yaml")
	if path != "/etc/bardrifter/settings.yaml" || env != "" {
		t.Fatalf("resolveConfigFlag(path) = (%q, %q)", path, env)
	}
}

func TestGenerateCorrelationIDIsShortAndUnique(t *testing.T) {
	a := generateCorrelationID()
	b := generateCorrelationID()
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("want 8-character ids, got %q and %q", a, b)
	}
	if a == b {
		t.Fatalf("want distinct ids across calls, got %q twice", a)
	}
}

func TestCorrelationHookStampsEveryEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(correlationHook{id: "abcd1234"})

	logger.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"correlation_id":"abcd1234"`)) {
		t.Fatalf("want correlation_id in log line, got: %s", buf.String())
	}
}

func TestRunDryRunPrintsPerSymbolSummary(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	led := ledger.New(dir, logger)

	if err := led.Upsert("AAPL", domain.StatusRecord{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Status: domain.StatusComplete, ActualBars: 390}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	stdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	code := runDryRun([]string{"AAPL", "MSFT"}, led)
	w.Close()
	os.Stdout = stdout

	var out bytes.Buffer
	io.Copy(&out, r)

	if code != 0 {
		t.Fatalf("want exit code 0, got %d", code)
	}
	if !bytes.Contains(out.Bytes(), []byte("AAPL")) {
		t.Fatalf("want AAPL in dry-run output, got: %s", out.String())
	}
}

type fakeMarketDataClient struct {
	earliest time.Time
	ok       bool
}

func (f *fakeMarketDataClient) Connect(ctx context.Context) error { return nil }
func (f *fakeMarketDataClient) FetchBars(ctx context.Context, contract domain.Contract, endOfDayUTC time.Time) ([]domain.Bar, error) {
	return nil, nil
}
func (f *fakeMarketDataClient) EarliestDataTimestamp(ctx context.Context, contract domain.Contract) (time.Time, bool, error) {
	return f.earliest, f.ok, nil
}

func TestSymbolEarliestAdapterResolvesThenDelegates(t *testing.T) {
	dir := t.TempDir()
	tickerPath := dir + "/tickers.csv"
	if err := os.WriteFile(tickerPath, []byte("symbol,secType,exchange,currency\nAAPL,STK,SMART,USD\n"), 0o644); err != nil {
		t.Fatalf("write ticker file: %v", err)
	}
	resolver, err := contracts.Load(tickerPath)
	if err != nil {
		t.Fatalf("contracts.Load: %v", err)
	}

	want := time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fetcher := fetch.New(&fakeMarketDataClient{earliest: want, ok: true}, nil, fetch.Config{}, logger)

	adapter := &symbolEarliestAdapter{resolver: resolver, fetcher: fetcher}
	got, ok, err := adapter.EarliestDataTimestamp(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("EarliestDataTimestamp: %v", err)
	}
	if !ok || !got.Equal(want) {
		t.Fatalf("got (%v, %v), want (%v, true)", got, ok, want)
	}
}

func TestSymbolEarliestAdapterPropagatesResolveError(t *testing.T) {
	dir := t.TempDir()
	tickerPath := dir + "/tickers.csv"
	if err := os.WriteFile(tickerPath, []byte("symbol,secType,exchange,currency\nAAPL,STK,SMART,USD\n"), 0o644); err != nil {
		t.Fatalf("write ticker file: %v", err)
	}
	resolver, err := contracts.Load(tickerPath)
	if err != nil {
		t.Fatalf("contracts.Load: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fetcher := fetch.New(&fakeMarketDataClient{}, nil, fetch.Config{}, logger)

	adapter := &symbolEarliestAdapter{resolver: resolver, fetcher: fetcher}
	if _, _, err := adapter.EarliestDataTimestamp(context.Background(), "UNKNOWN"); err == nil {
		t.Fatal("want an error for an unresolvable symbol")
	}
}
