package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lamweiwei/bardrifter/internal/calendar"
	"github.com/lamweiwei/bardrifter/internal/domain"
)

type stubCalendarClient struct {
	sched map[string]domain.Schedule
}

func (s stubCalendarClient) Schedule(date time.Time) (domain.Schedule, bool, error) {
	sched, ok := s.sched[domain.DateKey(date)]
	return sched, ok, nil
}

func regularSchedule(date time.Time) domain.Schedule {
	return domain.Schedule{
		Date: domain.CivilDate(date), IsTradingDay: true, DayType: domain.DayRegular,
		ExpectedBars: 390,
		MarketOpen:   domain.CivilDate(date).Add(13*time.Hour + 30*time.Minute),
		MarketClose:  domain.CivilDate(date).Add(20 * time.Hour),
	}
}

func holidaySchedule(date time.Time) domain.Schedule {
	return domain.Schedule{Date: domain.CivilDate(date), IsTradingDay: false, DayType: domain.DayHoliday}
}

func barsFor(date time.Time, n int) []domain.Bar {
	out := make([]domain.Bar, n)
	start := domain.CivilDate(date).Add(13*time.Hour + 30*time.Minute)
	for i := 0; i < n; i++ {
		out[i] = domain.Bar{
			TimestampUTC: start.Add(time.Duration(i) * time.Minute),
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		}
	}
	return out
}

type fakeGatewayClient struct {
	fetchErrs []error
	fetchCall int
	bars      []domain.Bar
}

func (f *fakeGatewayClient) FetchBars(ctx context.Context, c domain.Contract, end time.Time) ([]domain.Bar, error) {
	var err error
	if f.fetchCall < len(f.fetchErrs) {
		err = f.fetchErrs[f.fetchCall]
	}
	f.fetchCall++
	if err != nil {
		return nil, err
	}
	return f.bars, nil
}

func (f *fakeGatewayClient) EarliestDataTimestamp(ctx context.Context, c domain.Contract) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeGatewayClient) Connect(ctx context.Context) error { return nil }

func newTestFetcher(client *fakeGatewayClient, sched map[string]domain.Schedule) *Fetcher {
	cal := calendar.New(stubCalendarClient{sched: sched})
	f := New(client, cal, Config{RateLimitWindow: time.Millisecond, MaxAttempts: 3, WaitBetween: time.Millisecond}, nil)
	f.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return f
}

func TestFetchAndValidateDayHoliday(t *testing.T) {
	date := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC) // Saturday
	client := &fakeGatewayClient{}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): holidaySchedule(date),
	})

	out := f.FetchAndValidateDay(context.Background(), domain.Contract{Symbol: "AAPL"}, date)
	if out.Status != domain.StatusHoliday {
		t.Fatalf("want HOLIDAY, got %s", out.Status)
	}
	if client.fetchCall != 0 {
		t.Fatalf("want no network call on a holiday, got %d", client.fetchCall)
	}
}

func TestFetchAndValidateDayComplete(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &fakeGatewayClient{bars: barsFor(date, 390)}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): regularSchedule(date),
	})

	out := f.FetchAndValidateDay(context.Background(), domain.Contract{Symbol: "AAPL"}, date)
	if out.Status != domain.StatusComplete {
		t.Fatalf("want COMPLETE, got %s (%s)", out.Status, out.Message)
	}
	if len(out.Bars) != 390 {
		t.Fatalf("want 390 bars, got %d", len(out.Bars))
	}
}

func TestFetchAndValidateDayRetriesTransientErrorThenSucceeds(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &fakeGatewayClient{
		fetchErrs: []error{errors.New("connection reset"), errors.New("connection reset")},
		bars:      barsFor(date, 390),
	}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): regularSchedule(date),
	})

	out := f.FetchAndValidateDay(context.Background(), domain.Contract{Symbol: "AAPL"}, date)
	if out.Status != domain.StatusComplete {
		t.Fatalf("want COMPLETE after retries, got %s (%s)", out.Status, out.Message)
	}
	if client.fetchCall != 3 {
		t.Fatalf("want 3 attempts, got %d", client.fetchCall)
	}
}

func TestFetchAndValidateDayExhaustsRetryBudget(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &fakeGatewayClient{
		fetchErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): regularSchedule(date),
	})

	out := f.FetchAndValidateDay(context.Background(), domain.Contract{Symbol: "AAPL"}, date)
	if out.Status != domain.StatusError {
		t.Fatalf("want ERROR after exhausting retries, got %s", out.Status)
	}
	if !out.DataReceived {
		t.Fatalf("want DataReceived=true on a transport failure — the gateway was reached and failed, this is not an empty response")
	}
	if !strings.Contains(strings.ToLower(out.Message), "network") {
		t.Fatalf("want a network-classified message so the retry policy routes this NETWORK not NO_DATA, got %q", out.Message)
	}
	if client.fetchCall != 3 {
		t.Fatalf("want exactly MaxAttempts=3 attempts, got %d", client.fetchCall)
	}
}

func TestFetchAndValidateDayRejectsWrongDayBars(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	wrongDay := date.AddDate(0, 0, 1)
	client := &fakeGatewayClient{bars: barsFor(wrongDay, 390)}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): regularSchedule(date),
	})

	out := f.FetchAndValidateDay(context.Background(), domain.Contract{Symbol: "AAPL"}, date)
	if out.Status != domain.StatusError {
		t.Fatalf("want ERROR for mismatched bar date, got %s", out.Status)
	}
}

func TestFetchAndValidateDayBadBarCountIsError(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &fakeGatewayClient{bars: barsFor(date, 200)}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): regularSchedule(date),
	})

	out := f.FetchAndValidateDay(context.Background(), domain.Contract{Symbol: "AAPL"}, date)
	if out.Status != domain.StatusError {
		t.Fatalf("want ERROR for unexpected bar count, got %s", out.Status)
	}
}

func TestWaitForRateLimitSleepsBetweenCalls(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	client := &fakeGatewayClient{bars: barsFor(date, 390)}
	f := newTestFetcher(client, map[string]domain.Schedule{
		domain.DateKey(date): regularSchedule(date),
	})
	var slept time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	f.cfg.RateLimitWindow = 10 * time.Second
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	f.clock = func() time.Time { return tick }

	f.lastRequestDone = base
	tick = base.Add(2 * time.Second)
	if err := f.waitForRateLimit(context.Background()); err != nil {
		t.Fatalf("waitForRateLimit: %v", err)
	}
	if slept != 8*time.Second {
		t.Fatalf("want sleep of 8s, got %v", slept)
	}
}
