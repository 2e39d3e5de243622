// Package progress implements the Progress Tracker (SPEC_FULL.md §4.7):
// per-symbol and overall ETA computed from observed per-date latency. None
// of this is persisted — wall-clock progress is not a correctness
// property.
package progress

import (
	"strconv"
	"sync"
	"time"
)

// SymbolTiming is one symbol's observed timing record.
type SymbolTiming struct {
	Start              time.Time
	End                *time.Time
	TotalDates         int
	Completed          int
	Errors             int
	AvgSecondsPerDate  float64
}

// Tracker owns every symbol's timing record plus the overall start clock.
type Tracker struct {
	rateLimitWindow time.Duration
	now             func() time.Time

	mu          sync.Mutex
	overallStart time.Time
	timings      map[string]*SymbolTiming
	order        []string // completion order of finished symbols
	durations    []time.Duration
}

// New returns a Tracker whose symbol ETA is floored at rateLimitWindow,
// since the fetcher cannot go faster than one request per window.
func New(rateLimitWindow time.Duration) *Tracker {
	return &Tracker{rateLimitWindow: rateLimitWindow, now: time.Now, timings: make(map[string]*SymbolTiming)}
}

// StartOverall marks the overall clock; call once at process start.
func (t *Tracker) StartOverall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overallStart = t.now()
}

// StartSymbol begins tracking a new symbol with totalDates of planned work.
func (t *Tracker) StartSymbol(symbol string, totalDates int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timings[symbol] = &SymbolTiming{Start: t.now(), TotalDates: totalDates}
}

// UpdateSymbol records one per-date outcome and recomputes the symbol's
// average seconds-per-date, floored at the rate-limit window.
func (t *Tracker) UpdateSymbol(symbol string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	timing, ok := t.timings[symbol]
	if !ok {
		return
	}
	if success {
		timing.Completed++
	} else {
		timing.Errors++
	}
	elapsed := t.now().Sub(timing.Start).Seconds()
	denom := timing.Completed + timing.Errors
	if denom > 0 {
		timing.AvgSecondsPerDate = elapsed / float64(denom)
	}
	if timing.AvgSecondsPerDate < t.rateLimitWindow.Seconds() {
		timing.AvgSecondsPerDate = t.rateLimitWindow.Seconds()
	}
}

// FinishSymbol closes out a symbol's timing record and folds its duration
// into the mean used by the overall ETA.
func (t *Tracker) FinishSymbol(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	timing, ok := t.timings[symbol]
	if !ok {
		return
	}
	end := t.now()
	timing.End = &end
	t.durations = append(t.durations, end.Sub(timing.Start))
	t.order = append(t.order, symbol)
}

// SymbolETA returns the projected remaining time for a symbol still in
// progress: remaining_dates * max(rateLimitWindow, avg_seconds_per_date).
func (t *Tracker) SymbolETA(symbol string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.symbolETALocked(symbol)
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// OverallETA computes the remaining time across all symbols, per
// SPEC_FULL.md §4.7: once at least one symbol has completed, mean completed
// duration drives the estimate for the rest; before that, the current
// symbol's projected total stands in, falling back to 1 hour with no
// symbol active yet.
func (t *Tracker) OverallETA(currentSymbol string, remainingSymbols int) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	currentETA := t.symbolETALocked(currentSymbol)

	if len(t.durations) > 0 {
		mean := meanDuration(t.durations)
		others := remainingSymbols - 1
		if others < 0 {
			others = 0
		}
		return time.Duration(others)*mean + currentETA
	}

	if timing, ok := t.timings[currentSymbol]; ok && timing.TotalDates > 0 {
		projectedTotal := durationFromSeconds(float64(timing.TotalDates) * maxFloat(timing.AvgSecondsPerDate, t.rateLimitWindow.Seconds()))
		return projectedTotal
	}

	return time.Hour
}

func (t *Tracker) symbolETALocked(symbol string) time.Duration {
	timing, ok := t.timings[symbol]
	if !ok {
		return 0
	}
	remaining := timing.TotalDates - timing.Completed - timing.Errors
	if remaining < 0 {
		remaining = 0
	}
	perDate := maxFloat(timing.AvgSecondsPerDate, t.rateLimitWindow.Seconds())
	return durationFromSeconds(float64(remaining) * perDate)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func meanDuration(durations []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

// FormatDuration renders d stripped of days, as H:MM:SS. Negative durations
// clamp to "0:00:00" (SPEC_FULL.md §4.7, "all ETA presentations strip
// days").
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return pad(h) + ":" + padTwo(m) + ":" + padTwo(s)
}

func pad(n int64) string {
	return strconv.FormatInt(n, 10)
}

func padTwo(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
