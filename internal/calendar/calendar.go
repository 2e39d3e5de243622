// Package calendar adapts an external trading-calendar library (the
// MarketCalendar collaborator, out of scope per SPEC_FULL.md §1) into the
// Schedule values the rest of the pipeline consumes, and supplies the
// business-day fallback when that library is unavailable.
package calendar

import (
	"sort"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

// MarketCalendar is the abstract external collaborator: a real exchange
// trading-calendar library. Schedule returns the zero Schedule and ok=false
// when it has nothing to say about the date (library unavailable), which
// triggers the adapter's fallback.
type MarketCalendar interface {
	Schedule(date time.Time) (sched domain.Schedule, ok bool, err error)
}

const (
	regularDayBars = 390
	earlyCloseLong = 360
	earlyCloseShort = 210
)

// EarlyCloseBarCounts is the set of bar counts accepted unconditionally as
// early-close, per SPEC_FULL.md §4.2/§4.3.
var EarlyCloseBarCounts = []int{earlyCloseLong, earlyCloseShort}

// Adapter wraps a MarketCalendar and derives day type / expected bar count.
type Adapter struct {
	cal MarketCalendar
}

// New returns an Adapter over cal. cal may be nil, in which case every call
// uses the business-day fallback.
func New(cal MarketCalendar) *Adapter {
	return &Adapter{cal: cal}
}

// Schedule classifies one date. When the underlying calendar is unavailable
// (nil, or returns ok=false) the adapter falls back to "business-day,
// regular" — an explicit design choice favoring fetching over refusing
// (SPEC_FULL.md §4.2).
func (a *Adapter) Schedule(date time.Time) domain.Schedule {
	date = domain.CivilDate(date)

	if a.cal != nil {
		if sched, ok, err := a.cal.Schedule(date); ok && err == nil {
			return classify(date, sched)
		}
	}
	return fallbackSchedule(date)
}

func classify(date time.Time, raw domain.Schedule) domain.Schedule {
	if !raw.IsTradingDay {
		return domain.Schedule{Date: date, IsTradingDay: false, DayType: domain.DayHoliday, ExpectedBars: 0}
	}

	minutes := int(raw.MarketClose.Sub(raw.MarketOpen).Minutes())
	switch {
	case minutes <= earlyCloseShort:
		return domain.Schedule{
			Date: date, IsTradingDay: true, DayType: domain.DayEarlyCloseShort,
			ExpectedBars: earlyCloseShort, MarketOpen: raw.MarketOpen, MarketClose: raw.MarketClose,
		}
	case minutes <= earlyCloseLong:
		return domain.Schedule{
			Date: date, IsTradingDay: true, DayType: domain.DayEarlyCloseLong,
			ExpectedBars: earlyCloseLong, MarketOpen: raw.MarketOpen, MarketClose: raw.MarketClose,
		}
	default:
		return domain.Schedule{
			Date: date, IsTradingDay: true, DayType: domain.DayRegular,
			ExpectedBars: regularDayBars, MarketOpen: raw.MarketOpen, MarketClose: raw.MarketClose,
		}
	}
}

func fallbackSchedule(date time.Time) domain.Schedule {
	weekday := date.Weekday()
	isBusinessDay := weekday != time.Saturday && weekday != time.Sunday
	return domain.Schedule{
		Date:         date,
		IsTradingDay: isBusinessDay,
		DayType:      domain.DayRegular,
		ExpectedBars: regularDayBars,
	}
}

// TradingDates returns every date in [from, to] (inclusive, civil dates)
// that Schedule reports as a trading day, driving the Date Planner.
func (a *Adapter) TradingDates(from, to time.Time) []time.Time {
	from, to = domain.CivilDate(from), domain.CivilDate(to)
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if a.Schedule(d).IsTradingDay {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ValidateBarCount reports whether actualBars matches the date's expected
// count, or either acceptable early-close count (SPEC_FULL.md §4.3 check 4).
func (a *Adapter) ValidateBarCount(date time.Time, actualBars int) bool {
	sched := a.Schedule(date)
	if actualBars == sched.ExpectedBars {
		return true
	}
	for _, n := range EarlyCloseBarCounts {
		if actualBars == n {
			return true
		}
	}
	return false
}
