// Package fetch implements the Fetcher (SPEC_FULL.md §4.4): a single
// rate-limited request with bounded retry over transient errors, producing
// a validated, classified outcome for one (symbol, date).
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lamweiwei/bardrifter/internal/calendar"
	"github.com/lamweiwei/bardrifter/internal/domain"
	"github.com/lamweiwei/bardrifter/internal/gateway"
	"github.com/lamweiwei/bardrifter/internal/validate"
	"github.com/sirupsen/logrus"
)

// defaultMarketCloseUTC is the hard-coded exchange close used when the
// calendar adapter has no actual close time to offer — see DESIGN.md's
// resolution of SPEC_FULL.md's open question on this point.
const defaultMarketCloseUTC = 21 * time.Hour

// Config controls the Fetcher's rate limit and retry budget.
type Config struct {
	RateLimitWindow time.Duration
	MaxAttempts     int
	WaitBetween     time.Duration
}

func (c Config) normalize() Config {
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.WaitBetween <= 0 {
		c.WaitBetween = 5 * time.Second
	}
	return c
}

// Outcome is one FetchAndValidateDay result: a tagged Ok/Err union
// (SPEC_FULL.md §9, "exceptions-as-control-flow -> tagged results").
type Outcome struct {
	Status       domain.Status
	Bars         []domain.Bar
	Message      string
	DataReceived bool
}

// Fetcher drives one rate-limited, retried request per call.
type Fetcher struct {
	client gateway.MarketDataClient
	cal    *calendar.Adapter
	cfg    Config
	logger *logrus.Logger

	mu              sync.Mutex
	lastRequestDone time.Time
	clock           func() time.Time
	sleep           func(context.Context, time.Duration) error
}

// New returns a Fetcher wired to client (typically a
// *gateway.CircuitBreakerClient) and the calendar adapter.
func New(client gateway.MarketDataClient, cal *calendar.Adapter, cfg Config, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: client, cal: cal, cfg: cfg.normalize(), logger: logger,
		clock: time.Now, sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForRateLimit cooperatively suspends until at least RateLimitWindow
// has elapsed since the previous call's completion (SPEC_FULL.md §4.4 and
// §8 invariant 1). It is a no-op on the very first call.
func (f *Fetcher) waitForRateLimit(ctx context.Context) error {
	f.mu.Lock()
	last := f.lastRequestDone
	f.mu.Unlock()

	if last.IsZero() {
		return nil
	}
	elapsed := f.clock().Sub(last)
	if elapsed >= f.cfg.RateLimitWindow {
		return nil
	}
	return f.sleep(ctx, f.cfg.RateLimitWindow-elapsed)
}

func (f *Fetcher) markRequestDone() {
	f.mu.Lock()
	f.lastRequestDone = f.clock()
	f.mu.Unlock()
}

// endOfDayUTC builds the target timestamp for date, preferring the
// calendar's own close time and falling back to the fixed 21:00 UTC
// constant when the calendar has none to offer (DESIGN.md open-question
// resolution).
func (f *Fetcher) endOfDayUTC(date time.Time) time.Time {
	sched := f.cal.Schedule(date)
	if !sched.MarketClose.IsZero() {
		return sched.MarketClose
	}
	d := domain.CivilDate(date)
	return d.Add(defaultMarketCloseUTC)
}

// FetchAndValidateDay runs the full per-date pipeline: holiday short
// circuit, rate-limited retried request, first-bar-date assertion,
// validation, and status derivation.
func (f *Fetcher) FetchAndValidateDay(ctx context.Context, contract domain.Contract, date time.Time) Outcome {
	sched := f.cal.Schedule(date)
	if !sched.IsTradingDay {
		return Outcome{Status: domain.StatusHoliday, Message: "HOLIDAY", DataReceived: true}
	}

	bars, err := f.requestWithRetry(ctx, contract, date)
	if err != nil {
		// A transport/API failure is not an empty response: the gateway was
		// reached (or attempted) and failed, so DataReceived stays true and
		// the retry classifier (SPEC_FULL.md §4.6) works from the message:
		// the "network error" prefix makes it NETWORK unless the underlying
		// error carries a no-data keyword such as "no historical data",
		// which the classifier checks first. An empty successful response
		// is not an error; it derives HOLIDAY below.
		return Outcome{Status: domain.StatusError, Message: "network error: " + err.Error(), DataReceived: true}
	}

	if len(bars) > 0 && !domain.CivilDate(bars[0].TimestampUTC).Equal(domain.CivilDate(date)) {
		return Outcome{
			Status: domain.StatusError,
			Message: fmt.Sprintf("gateway returned wrong day: want %s got %s",
				domain.DateKey(date), domain.DateKey(bars[0].TimestampUTC)),
			DataReceived: true,
		}
	}

	result := validate.Day(f.cal, date, bars)
	if !result.IsValid {
		return Outcome{Status: domain.StatusError, Bars: bars, Message: result.Message, DataReceived: true}
	}
	if len(result.ErrorDetails) > 0 && f.logger != nil {
		f.logger.WithField("date", domain.DateKey(date)).Warn("fetch: data quality warnings: ", result.ErrorDetails)
	}

	status := deriveStatus(len(bars), sched)
	return Outcome{Status: status, Bars: bars, Message: string(status), DataReceived: true}
}

func deriveStatus(n int, sched domain.Schedule) domain.Status {
	switch {
	case n == 0:
		return domain.StatusHoliday
	case sched.DayType == domain.DayRegular && n == sched.ExpectedBars:
		return domain.StatusComplete
	case (sched.DayType == domain.DayEarlyCloseShort || sched.DayType == domain.DayEarlyCloseLong) && n == sched.ExpectedBars:
		return domain.StatusEarlyClose
	default:
		return domain.StatusError
	}
}

// requestWithRetry issues the rate-limited request, retrying transient
// failures up to MaxAttempts times with a fixed wait between attempts
// (SPEC_FULL.md §4.4: "the rate-limit clock resets each request").
func (f *Fetcher) requestWithRetry(ctx context.Context, contract domain.Contract, date time.Time) ([]domain.Bar, error) {
	constant := backoff.NewConstantBackOff(f.cfg.WaitBetween)
	bounded := backoff.WithMaxRetries(constant, uint64(f.cfg.MaxAttempts-1))
	withCtx := backoff.WithContext(bounded, ctx)

	var bars []domain.Bar
	op := func() error {
		if err := f.waitForRateLimit(ctx); err != nil {
			return backoff.Permanent(err)
		}
		endOfDay := f.endOfDayUTC(date)
		result, err := f.client.FetchBars(ctx, contract, endOfDay)
		f.markRequestDone()
		if err != nil {
			return err
		}
		bars = result
		return nil
	}

	if err := backoff.Retry(op, withCtx); err != nil {
		return nil, err
	}
	return bars, nil
}

// EarliestDataTimestamp wraps the gateway's head-timestamp query under the
// same rate limit, called once per symbol at plan time.
func (f *Fetcher) EarliestDataTimestamp(ctx context.Context, contract domain.Contract) (time.Time, bool, error) {
	if err := f.waitForRateLimit(ctx); err != nil {
		return time.Time{}, false, err
	}
	t, ok, err := f.client.EarliestDataTimestamp(ctx, contract)
	f.markRequestDone()
	return t, ok, err
}
