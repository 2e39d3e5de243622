package contracts

import (
	"strings"
	"testing"
)

const sampleCSV = `symbol,secType,exchange,currency,strike
AAPL,STK,SMART,USD,
ES,FUT,GLOBEX,USD,
SPY240119C00450000,OPT,SMART,USD,450
`

func TestLoadAndResolve(t *testing.T) {
	r, err := parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	c, err := r.Resolve("AAPL")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.SecType != "STK" || c.Exchange != "SMART" || c.Currency != "USD" {
		t.Fatalf("unexpected contract: %+v", c)
	}

	opt, err := r.Resolve("SPY240119C00450000")
	if err != nil {
		t.Fatalf("Resolve option: %v", err)
	}
	if opt.Strike != 450 {
		t.Fatalf("want strike 450, got %v", opt.Strike)
	}
}

func TestUniversePreservesFileOrder(t *testing.T) {
	r, err := parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"AAPL", "ES", "SPY240119C00450000"}
	got := r.Universe()
	if len(got) != len(want) {
		t.Fatalf("want %d symbols, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	r, err := parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve("NOPE"); err == nil {
		t.Fatalf("want error for unknown symbol")
	}
}

func TestParseRejectsMissingRequiredColumn(t *testing.T) {
	_, err := parse(strings.NewReader("symbol,secType\nAAPL,STK\n"))
	if err == nil {
		t.Fatalf("want error for missing exchange/currency columns")
	}
}

func TestParseRejectsBadSecType(t *testing.T) {
	_, err := parse(strings.NewReader("symbol,secType,exchange,currency\nAAPL,BOND,SMART,USD\n"))
	if err == nil {
		t.Fatalf("want error for invalid secType")
	}
}
