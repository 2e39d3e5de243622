// Package scheduler drives the single logical worker described in
// SPEC_FULL.md §4.8 and §5: one symbol at a time, one date at a time,
// suspending only at well-defined checkpoints (rate-limit wait, network
// I/O, retry sleep, shutdown poll) so that the background reporter,
// shutdown timer and dashboard can observe consistent state between them.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/lamweiwei/bardrifter/internal/contracts"
	"github.com/lamweiwei/bardrifter/internal/domain"
	"github.com/lamweiwei/bardrifter/internal/fetch"
	"github.com/lamweiwei/bardrifter/internal/ledger"
	"github.com/lamweiwei/bardrifter/internal/plan"
	"github.com/lamweiwei/bardrifter/internal/progress"
	"github.com/lamweiwei/bardrifter/internal/retry"
	"github.com/lamweiwei/bardrifter/internal/shutdown"
	"github.com/sirupsen/logrus"
)

// PerDateTimeout bounds one (symbol, date) attempt end to end, independent
// of the Fetcher's own retry budget, so one hanging date cannot stall the
// whole run (SPEC_FULL.md §4.8). DESIGN.md resolves its relationship to the
// controller's 5s forced-stop timer: the two are independent, and whichever
// fires first wins.
const PerDateTimeout = 60 * time.Second

// SymbolResult is one symbol's completed-run outcome, folded into the
// RunSummary the CLI prints on exit.
type SymbolResult struct {
	Symbol        string
	DatesPlanned  int
	DatesComplete int
	DatesError    int
	Skipped       bool // latched by the Smart Retry Manager's no-data streak
	Interrupted   bool // the run stopped mid-symbol due to shutdown
}

// RunSummary is the scheduler's final report, printed by the CLI when a run
// ends (SPEC_FULL.md §7). --dry-run prints the ledger summary instead.
type RunSummary struct {
	Symbols    []SymbolResult
	ExitCode   int
	Interrupted bool
}

// Snapshot is the scheduler's read-only status surface, polled by the
// Reporter and the dashboard — never mutated by either.
type Snapshot struct {
	CurrentSymbol    string
	CurrentDate      string
	SymbolsCompleted int
	SymbolsTotal     int
	DatesCompleted   int
	DatesTotal       int
	ETA              time.Duration
}

// Scheduler wires every component collaborator together and runs the
// sequential symbol/date loop.
type Scheduler struct {
	resolver *contracts.Resolver
	planner  *plan.Planner
	fetcher  *fetch.Fetcher
	retry    *retry.Policy
	ledger   *ledger.Ledger
	progress *progress.Tracker
	shutdown *shutdown.Controller
	logger   *logrus.Logger

	mu       sync.Mutex
	snapshot Snapshot
}

// New returns a Scheduler over its collaborators.
func New(
	resolver *contracts.Resolver,
	planner *plan.Planner,
	fetcher *fetch.Fetcher,
	retryPolicy *retry.Policy,
	l *ledger.Ledger,
	tracker *progress.Tracker,
	ctrl *shutdown.Controller,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		resolver: resolver, planner: planner, fetcher: fetcher,
		retry: retryPolicy, ledger: l, progress: tracker, shutdown: ctrl, logger: logger,
	}
}

// Snapshot returns the current read-only status.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Run processes symbols in order, one date at a time, until the list is
// exhausted or a shutdown is observed. It never returns an error: every
// per-date failure is recorded in the ledger and folded into the summary
// instead of aborting the run (SPEC_FULL.md §9, "tagged results, not
// exceptions").
func (s *Scheduler) Run(ctx context.Context, symbols []string) RunSummary {
	s.progress.StartOverall()
	summary := RunSummary{Symbols: make([]SymbolResult, 0, len(symbols))}

	s.mu.Lock()
	s.snapshot.SymbolsTotal = len(symbols)
	s.mu.Unlock()

	for i, symbol := range symbols {
		if s.shutdown.Stopping() || ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		result := s.runSymbol(ctx, symbol, len(symbols)-i-1)
		summary.Symbols = append(summary.Symbols, result)

		s.mu.Lock()
		s.snapshot.SymbolsCompleted = i + 1
		s.mu.Unlock()

		if result.Interrupted {
			summary.Interrupted = true
			break
		}
	}

	summary.ExitCode = s.shutdown.ExitCode()
	return summary
}

func (s *Scheduler) runSymbol(ctx context.Context, symbol string, remainingAfter int) SymbolResult {
	result := SymbolResult{Symbol: symbol}
	job := domain.NewJobStateMachine()
	_ = job.Transition(domain.JobRunning, "symbol started")

	contract, err := s.resolver.Resolve(symbol)
	if err != nil {
		if s.logger != nil {
			s.logger.WithField("symbol", symbol).WithError(err).Error("scheduler: cannot resolve contract")
		}
		_ = job.Transition(domain.JobError, err.Error())
		return result
	}

	dates, err := s.planner.Plan(ctx, symbol)
	if err != nil {
		if s.logger != nil {
			s.logger.WithField("symbol", symbol).WithError(err).Error("scheduler: planning failed")
		}
		_ = job.Transition(domain.JobError, err.Error())
		return result
	}

	result.DatesPlanned = len(dates)
	s.progress.StartSymbol(symbol, len(dates))

	s.mu.Lock()
	s.snapshot.DatesTotal += len(dates)
	s.mu.Unlock()

	s.updateSnapshot(symbol, "", remainingAfter+1)

	for _, date := range dates {
		if s.shutdown.Stopping() || ctx.Err() != nil {
			result.Interrupted = true
			_ = job.Transition(domain.JobPaused, "shutdown requested mid-symbol")
			break
		}

		if s.retry.ShouldSkipSymbol(symbol) {
			result.Skipped = true
			_ = job.Transition(domain.JobError, "no-data streak latched")
			if s.logger != nil {
				s.logger.WithField("symbol", symbol).Warn("scheduler: no-data streak latched, abandoning remaining dates")
			}
			break
		}

		if !s.retry.CanRetryDate(symbol, date) {
			if s.logger != nil {
				s.logger.WithFields(logFields(symbol, date)).Warn("scheduler: retry budget exhausted for date, skipping")
			}
			result.DatesError++
			s.mu.Lock()
			s.snapshot.DatesCompleted++
			s.mu.Unlock()
			continue
		}

		success := s.processDate(ctx, symbol, contract, date, &result)
		s.progress.UpdateSymbol(symbol, success)
		s.mu.Lock()
		s.snapshot.DatesCompleted++
		s.mu.Unlock()
		s.updateSnapshot(symbol, domain.DateKey(date), remainingAfter+1)
	}

	s.progress.FinishSymbol(symbol)
	if !result.Interrupted && !result.Skipped {
		_ = job.Transition(domain.JobComplete, "symbol exhausted its date list")
	}
	return result
}

func (s *Scheduler) processDate(ctx context.Context, symbol string, contract domain.Contract, date time.Time, result *SymbolResult) (success bool) {
	dateCtx, cancel := context.WithTimeout(ctx, PerDateTimeout)
	outcome := s.fetcher.FetchAndValidateDay(dateCtx, contract, date)
	timedOut := dateCtx.Err() == context.DeadlineExceeded
	rootCanceled := ctx.Err() == context.Canceled
	cancel()

	// A root-context cancellation means the forced-shutdown timer fired
	// mid-request (SPEC_FULL.md §5): the in-flight date's partial outcome is
	// not written to the ledger and no RecordFailure is charged against it.
	if rootCanceled {
		return false
	}

	if timedOut {
		outcome = fetch.Outcome{Status: domain.StatusError, Message: "gateway request timed out after 60s: network timeout", DataReceived: true}
	}

	record := domain.StatusRecord{
		Date: domain.CivilDate(date), Status: outcome.Status, ActualBars: len(outcome.Bars),
	}

	if outcome.Status.Terminal() {
		s.retry.RecordSuccess(symbol, date)
		record.RetryCount = 0
		result.DatesComplete++
		success = true
	} else {
		failureType := s.retry.RecordFailure(symbol, date, outcome.Message, outcome.DataReceived)
		record.ErrorMessage = string(failureType) + ": " + outcome.Message
		record.RetryCount = s.retry.RetryCount(symbol, date)
		result.DatesError++
	}

	if err := s.ledger.Upsert(symbol, record); err != nil && s.logger != nil {
		s.logger.WithFields(logFields(symbol, date)).WithError(err).Error("scheduler: ledger write failed")
	}
	return success
}

func (s *Scheduler) updateSnapshot(symbol, date string, remainingSymbols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.CurrentSymbol = symbol
	s.snapshot.CurrentDate = date
	s.snapshot.ETA = s.progress.OverallETA(symbol, remainingSymbols)
}

func logFields(symbol string, date time.Time) logrus.Fields {
	return logrus.Fields{"symbol": symbol, "date": domain.DateKey(date)}
}
