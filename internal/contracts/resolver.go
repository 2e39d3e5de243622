// Package contracts loads the ticker table (SPEC_FULL.md §6) and resolves
// symbols to Contract values, the abstract ContractResolver collaborator
// (SPEC_FULL.md §1).
package contracts

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

// Resolver loads a ticker CSV once and answers Resolve/Universe queries
// from the parsed table.
type Resolver struct {
	bySymbol map[string]domain.Contract
	order    []string
}

// Load parses the ticker table at path. Required columns: symbol, secType,
// exchange, currency. Optional: lastTradeDateOrContractMonth, strike,
// right, multiplier.
func Load(path string) (*Resolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contracts: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Resolver, error) {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("contracts: read ticker table: %w", err)
	}
	if len(rows) == 0 {
		return &Resolver{bySymbol: map[string]domain.Contract{}}, nil
	}

	idx, err := columnIndex(rows[0])
	if err != nil {
		return nil, err
	}

	res := &Resolver{bySymbol: make(map[string]domain.Contract, len(rows)-1)}
	for i, row := range rows[1:] {
		c, err := rowToContract(row, idx)
		if err != nil {
			return nil, fmt.Errorf("contracts: row %d: %w", i+2, err)
		}
		if err := validateSecType(c.SecType); err != nil {
			return nil, fmt.Errorf("contracts: row %d: %w", i+2, err)
		}
		res.bySymbol[c.Symbol] = c
		res.order = append(res.order, c.Symbol)
	}
	return res, nil
}

type columnSet struct {
	symbol, secType, exchange, currency                     int
	lastTradeDateOrContractMonth, strike, right, multiplier int
}

func columnIndex(header []string) (columnSet, error) {
	idx := columnSet{-1, -1, -1, -1, -1, -1, -1, -1}
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "symbol":
			idx.symbol = i
		case "secType":
			idx.secType = i
		case "exchange":
			idx.exchange = i
		case "currency":
			idx.currency = i
		case "lastTradeDateOrContractMonth":
			idx.lastTradeDateOrContractMonth = i
		case "strike":
			idx.strike = i
		case "right":
			idx.right = i
		case "multiplier":
			idx.multiplier = i
		}
	}
	required := map[string]int{"symbol": idx.symbol, "secType": idx.secType, "exchange": idx.exchange, "currency": idx.currency}
	for name, i := range required {
		if i < 0 {
			return idx, fmt.Errorf("contracts: missing required column %q", name)
		}
	}
	return idx, nil
}

func rowToContract(row []string, idx columnSet) (domain.Contract, error) {
	get := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	c := domain.Contract{
		Symbol:                        get(idx.symbol),
		SecType:                       get(idx.secType),
		Exchange:                      get(idx.exchange),
		Currency:                      get(idx.currency),
		LastTradeDateOrContractMonth:  get(idx.lastTradeDateOrContractMonth),
		Right:                         get(idx.right),
		Multiplier:                    get(idx.multiplier),
	}
	if c.Symbol == "" {
		return c, fmt.Errorf("empty symbol")
	}
	if s := get(idx.strike); s != "" {
		strike, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return c, fmt.Errorf("bad strike %q: %w", s, err)
		}
		c.Strike = strike
	}
	return c, nil
}

func validateSecType(secType string) error {
	switch secType {
	case "STK", "FUT", "OPT":
		return nil
	default:
		return fmt.Errorf("secType %q is not one of STK|FUT|OPT", secType)
	}
}

// Resolve returns the Contract for symbol.
func (r *Resolver) Resolve(symbol string) (domain.Contract, error) {
	c, ok := r.bySymbol[symbol]
	if !ok {
		return domain.Contract{}, fmt.Errorf("contracts: unknown symbol %q", symbol)
	}
	return c, nil
}

// Universe returns every symbol in the ticker table, in file order — the
// scheduler's ordered sequence when the CLI is invoked with no symbols
// (SPEC_FULL.md §6).
func (r *Resolver) Universe() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
