// Package report implements the Reporter (SPEC_FULL.md §4.10): a read-only
// background task that prints periodic progress, sleeping in short slices
// so a shutdown request is picked up within roughly one second rather than
// stalling the whole run for the configured interval.
package report

import (
	"context"
	"strconv"
	"time"

	"github.com/lamweiwei/bardrifter/internal/progress"
	"github.com/lamweiwei/bardrifter/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the reporter's default cadence (SPEC_FULL.md §4.10).
const DefaultInterval = 30 * time.Second

// sleepSlice bounds how long the Reporter can be blocked before it notices
// ctx was cancelled. A var, not a const, so tests can shrink it.
var sleepSlice = time.Second

// Snapshotter is the subset of the scheduler the Reporter polls.
type Snapshotter interface {
	Snapshot() scheduler.Snapshot
}

// Reporter logs a periodic progress line until ctx is cancelled.
type Reporter struct {
	snapshot Snapshotter
	interval time.Duration
	logger   *logrus.Logger
	quiet    bool
}

// New returns a Reporter over snapshot, firing every interval (DefaultInterval
// if zero or negative). quiet suppresses stdout/log emission but the ticking
// loop still runs, matching --quiet in SPEC_FULL.md §6.
func New(snapshot Snapshotter, interval time.Duration, logger *logrus.Logger, quiet bool) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{snapshot: snapshot, interval: interval, logger: logger, quiet: quiet}
}

// Run blocks, emitting a progress line every interval, until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	elapsed := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepSlice):
			elapsed += sleepSlice
			if elapsed >= r.interval {
				elapsed = 0
				r.emit()
			}
		}
	}
}

func (r *Reporter) emit() {
	if r.quiet || r.logger == nil {
		return
	}
	snap := r.snapshot.Snapshot()
	successRate := 0.0
	if snap.DatesTotal > 0 {
		successRate = float64(snap.DatesCompleted) / float64(snap.DatesTotal) * 100
	}
	r.logger.WithFields(logrus.Fields{
		"symbol":           snap.CurrentSymbol,
		"date":             snap.CurrentDate,
		"symbols_complete": symbolProgress(snap),
		"success_rate":     successRate,
		"eta":              progress.FormatDuration(snap.ETA),
	}).Info("fetch progress")
}

func symbolProgress(snap scheduler.Snapshot) string {
	return strconv.Itoa(snap.SymbolsCompleted) + "/" + strconv.Itoa(snap.SymbolsTotal)
}
