// Command fetch drives one run of the bar archiver: resolve a symbol
// universe, plan each symbol's remaining trading days newest-to-oldest, and
// walk the rate-limited, retried fetch pipeline until every symbol is
// exhausted or a shutdown is requested (SPEC_FULL.md §2, §6). Grounded on
// the teacher's cmd/bot/main.go: a run() int wrapped by os.Exit, sequential
// component construction, a signal-handling goroutine, and a dashboard
// server brought down on its own short deadline once the main loop exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lamweiwei/bardrifter/internal/calendar"
	"github.com/lamweiwei/bardrifter/internal/config"
	"github.com/lamweiwei/bardrifter/internal/contracts"
	"github.com/lamweiwei/bardrifter/internal/dashboard"
	"github.com/lamweiwei/bardrifter/internal/fetch"
	"github.com/lamweiwei/bardrifter/internal/gateway"
	"github.com/lamweiwei/bardrifter/internal/ibclient"
	"github.com/lamweiwei/bardrifter/internal/ledger"
	"github.com/lamweiwei/bardrifter/internal/logging"
	"github.com/lamweiwei/bardrifter/internal/plan"
	"github.com/lamweiwei/bardrifter/internal/progress"
	"github.com/lamweiwei/bardrifter/internal/report"
	"github.com/lamweiwei/bardrifter/internal/retry"
	"github.com/lamweiwei/bardrifter/internal/scheduler"
	"github.com/lamweiwei/bardrifter/internal/shutdown"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFlag string
	var progressIntervalSecs int
	var dryRun bool
	var quiet bool

	flag.StringVar(&configFlag, "config", "dev", "Path to a settings.yaml file, or one of dev|test|prod")
	flag.IntVar(&progressIntervalSecs, "progress-interval", 0, "Seconds between progress lines (default 30)")
	flag.BoolVar(&dryRun, "dry-run", false, "Print each symbol's ledger summary and exit")
	flag.BoolVar(&quiet, "quiet", false, "Suppress periodic progress output")
	flag.Parse()

	path, env := resolveConfigFlag(configFlag)
	cfg, err := config.Load(path, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{
		Level: cfg.Logging.Level, LogDir: cfg.LogDir,
		MaxSizeMB: cfg.Logging.MaxSizeMB, BackupCount: cfg.Logging.BackupCount,
		JSON: cfg.IsProd(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: logger: %v\n", err)
		return 1
	}
	logger.AddHook(correlationHook{id: generateCorrelationID()})

	resolver, err := contracts.Load(cfg.TickerFile)
	if err != nil {
		logger.WithError(err).Error("fetch: cannot load ticker table")
		return 1
	}

	symbols := flag.Args()
	if len(symbols) == 0 {
		symbols = resolver.Universe()
	}
	if len(symbols) == 0 {
		logger.Error("fetch: no symbols given and the ticker table is empty")
		return 1
	}

	led := ledger.New(cfg.DataDir, logger)

	if dryRun {
		return runDryRun(symbols, led)
	}

	rawClient := ibclient.New(cfg.Connection.Host, cfg.Connection.Port, cfg.Connection.ClientID, cfg.Connection.Timeout)
	client := gateway.NewCircuitBreakerClient(rawClient, "ibclient", 5, 30*time.Second)

	ctrl, ctx := shutdown.New(context.Background(), logger)
	stopListening := ctrl.ListenForSignals()
	defer stopListening()

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.Connection.Timeout)
	err = gateway.ConnectWithRetry(connectCtx, client, cfg.Connection.ReconnectionAttempts)
	cancelConnect()
	if err != nil {
		logger.WithError(err).Error("fetch: cannot connect to market data gateway")
		return 1
	}
	logger.Info("fetch: connected to market data gateway")

	cal := calendar.New(nil) // no concrete MarketCalendar wired; falls back to business-day schedule (SPEC_FULL.md §4.2)
	fetcher := fetch.New(client, cal, fetch.Config{
		RateLimitWindow: cfg.RateLimit.Window, MaxAttempts: cfg.Retry.MaxAttempts, WaitBetween: cfg.Retry.WaitSeconds,
	}, logger)

	planner := plan.New(&symbolEarliestAdapter{resolver: resolver, fetcher: fetcher}, cal, led)
	retryPolicy := retry.New(retry.Config{
		MaxRetriesPerDate: cfg.FailureHandling.MaxRetriesPerDate, MaxConsecutiveNoDataDays: cfg.FailureHandling.MaxConsecutiveNoDataDays,
	})
	tracker := progress.New(cfg.RateLimit.Window)
	sched := scheduler.New(resolver, planner, fetcher, retryPolicy, led, tracker, ctrl, logger)

	interval := cfg.ProgressInterval
	if progressIntervalSecs > 0 {
		interval = time.Duration(progressIntervalSecs) * time.Second
	}
	reporter := report.New(sched, interval, logger, quiet)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return reporter.Run(groupCtx) })

	var dashSrv *http.Server
	if cfg.Dashboard.IsEnabled() {
		dashSrv = &http.Server{Addr: cfg.Dashboard.BindAddr, Handler: dashboard.New(sched, led)}
		group.Go(func() error {
			logger.WithField("addr", cfg.Dashboard.BindAddr).Info("fetch: dashboard listening")
			if err := dashSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	var summary scheduler.RunSummary
	group.Go(func() error {
		summary = sched.Run(groupCtx, symbols)
		ctrl.Stop("run complete")
		ctrl.FinishGraceful()
		if dashSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dashSrv.Shutdown(shutdownCtx)
		}
		return nil
	})
	_ = group.Wait()

	printSummary(summary, logger)
	return summary.ExitCode
}

// resolveConfigFlag splits --config's dual meaning (SPEC_FULL.md §6): one of
// dev|test|prod selects the environment overlay over the base settings
// file; anything else is treated as an explicit path with no overlay.
func resolveConfigFlag(value string) (path, env string) {
	switch value {
	case "dev", "test", "prod":
		return "config/settings.yaml", value
	default:
		return value, ""
	}
}

func runDryRun(symbols []string, led *ledger.Ledger) int {
	for _, symbol := range symbols {
		summary, err := led.Summary(symbol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch: %s: %v\n", symbol, err)
			continue
		}
		fmt.Printf("%-8s total=%-4d completed=%-4d errors=%-4d success_rate=%.1f%%\n",
			symbol, summary.Total, summary.Completed, summary.Errors, summary.SuccessRate)
	}
	return 0
}

// printSummary is the user-visible report at normal exit or shutdown
// (SPEC_FULL.md §7): per symbol planned/complete/errors/success-rate/skipped,
// plus an invitation to re-run for resume when the run was interrupted. It
// does not report a symbol's last successful date or the shutdown reason.
func printSummary(summary scheduler.RunSummary, logger *logrus.Logger) {
	for _, s := range summary.Symbols {
		successRate := 0.0
		if s.DatesPlanned > 0 {
			successRate = float64(s.DatesComplete) / float64(s.DatesPlanned) * 100
		}
		logger.WithFields(logrus.Fields{
			"symbol": s.Symbol, "planned": s.DatesPlanned, "complete": s.DatesComplete,
			"errors": s.DatesError, "success_rate": successRate, "skipped": s.Skipped,
		}).Info("fetch: symbol summary")
	}
	if summary.Interrupted {
		logger.Warn("fetch: run interrupted by shutdown; re-run the same command to resume from the ledger")
	} else {
		logger.Info("fetch: run complete")
	}
}

// symbolEarliestAdapter bridges the Date Planner's EarliestDater (keyed by
// symbol) to the Fetcher's EarliestDataTimestamp (keyed by a resolved
// Contract), resolving once per call rather than caching since Resolve is
// an in-memory map lookup.
type symbolEarliestAdapter struct {
	resolver *contracts.Resolver
	fetcher  *fetch.Fetcher
}

func (a *symbolEarliestAdapter) EarliestDataTimestamp(ctx context.Context, symbol string) (time.Time, bool, error) {
	contract, err := a.resolver.Resolve(symbol)
	if err != nil {
		return time.Time{}, false, err
	}
	return a.fetcher.EarliestDataTimestamp(ctx, contract)
}

var _ plan.EarliestDater = (*symbolEarliestAdapter)(nil)

// correlationHook stamps every log entry with one correlation ID for the
// run, matching the teacher's generateCorrelationID usage in
// cmd/bot/main.go but implemented as a logrus.Hook instead of a
// per-call-site argument, since every component here logs through the same
// injected *logrus.Logger rather than building fresh entries per request.
type correlationHook struct {
	id string
}

func (h correlationHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h correlationHook) Fire(entry *logrus.Entry) error {
	entry.Data["correlation_id"] = h.id
	return nil
}

// generateCorrelationID returns an 8-character run identifier. The teacher
// falls back to crypto/rand plus a pid/time seed if the system RNG read
// fails; there is no fallback path here, and uuid.NewString() panics if the
// random source fails.
func generateCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
