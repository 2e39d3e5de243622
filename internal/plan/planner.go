// Package plan implements the Date Planner (SPEC_FULL.md §4.5): for one
// symbol it produces the remaining work list, newest date first.
package plan

import (
	"context"
	"sort"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

// EarliestDater wraps the Fetcher's head-timestamp query. It is queried
// once per symbol at plan time and is subject to the same rate limit as
// every other gateway call.
type EarliestDater interface {
	EarliestDataTimestamp(ctx context.Context, symbol string) (time.Time, bool, error)
}

// TradingDater wraps the Calendar Adapter's date-range query.
type TradingDater interface {
	TradingDates(from, to time.Time) []time.Time
}

// CompletedDateser wraps the Ledger's completed-date lookup.
type CompletedDateser interface {
	CompletedDates(symbol string) (map[string]struct{}, error)
}

// Planner produces a symbol's remaining work list.
type Planner struct {
	earliest  EarliestDater
	cal       TradingDater
	completed CompletedDateser
	now       func() time.Time
}

// New returns a Planner wired to its three collaborators.
func New(earliest EarliestDater, cal TradingDater, completed CompletedDateser) *Planner {
	return &Planner{earliest: earliest, cal: cal, completed: completed, now: time.Now}
}

// SetClock overrides the Planner's notion of "now", used by tests outside
// this package to pin which date counts as yesterday.
func (p *Planner) SetClock(now func() time.Time) {
	p.now = now
}

// Plan returns the dates symbol still needs, sorted newest first. An empty
// result means the symbol has nothing left to do (or its earliest date
// could not be determined).
func (p *Planner) Plan(ctx context.Context, symbol string) ([]time.Time, error) {
	earliest, ok, err := p.earliest.EarliestDataTimestamp(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	yesterday := domain.CivilDate(p.now().UTC().AddDate(0, 0, -1))
	candidates := p.cal.TradingDates(domain.CivilDate(earliest), yesterday)

	completed, err := p.completed.CompletedDates(symbol)
	if err != nil {
		return nil, err
	}

	var remaining []time.Time
	for _, d := range candidates {
		if _, done := completed[domain.DateKey(d)]; !done {
			remaining = append(remaining, d)
		}
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].After(remaining[j]) })
	return remaining, nil
}
