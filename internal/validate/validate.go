// Package validate runs the five structural, price-sanity, time-sequence,
// calendar and quality checks a day's bars must pass before the Ledger
// records it as written (SPEC_FULL.md §4.3).
package validate

import (
	"fmt"
	"math"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

// Result conveys the outcome of validating one day's bars.
type Result struct {
	IsValid       bool
	Message       string
	ErrorDetails  []string
	ValidatedBars int
	ExpectedBars  int
}

// CalendarChecker is the subset of the calendar adapter the validator
// needs: a bar-count check against the day's expected count or either
// acceptable early-close count.
type CalendarChecker interface {
	ValidateBarCount(date time.Time, actualBars int) bool
	Schedule(date time.Time) domain.Schedule
}

// Day runs the five checks in order against bars for the given date; the
// first failure is returned. Empty input is valid (a holiday). Quality
// issues other than missing values are collected as warnings and do not
// fail validation.
//
// The structural check (required columns present, numeric types) has no
// Go counterpart: []domain.Bar is already typed, so a missing column or a
// non-numeric field cannot reach this function at all. The check starts at
// price sanity.
func Day(cal CalendarChecker, date time.Time, bars []domain.Bar) Result {
	if len(bars) == 0 {
		return Result{IsValid: true, Message: "empty dataset (possible holiday)", ValidatedBars: 0}
	}

	if res := checkPriceSanity(bars); !res.IsValid {
		return res
	}
	if res := checkTimeSequence(bars); !res.IsValid {
		return res
	}
	if res := checkCalendar(cal, date, bars); !res.IsValid {
		return res
	}
	return checkQuality(bars)
}

func checkPriceSanity(bars []domain.Bar) Result {
	var errs []string
	highLow, highOpen, highClose, lowOpen, lowClose, negPrice, negVol, negBarCount := 0, 0, 0, 0, 0, 0, 0, 0

	for _, b := range bars {
		if b.High < b.Low {
			highLow++
		}
		if b.High < b.Open {
			highOpen++
		}
		if b.High < b.Close {
			highClose++
		}
		if b.Low > b.Open {
			lowOpen++
		}
		if b.Low > b.Close {
			lowClose++
		}
		if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 {
			negPrice++
		}
		if b.Volume < 0 {
			negVol++
		}
		if b.BarCount < 0 {
			negBarCount++
		}
	}

	addIf := func(n int, format string) {
		if n > 0 {
			errs = append(errs, fmt.Sprintf(format, n))
		}
	}
	addIf(highLow, "high < low in %d bars")
	addIf(highOpen, "high < open in %d bars")
	addIf(highClose, "high < close in %d bars")
	addIf(lowOpen, "low > open in %d bars")
	addIf(lowClose, "low > close in %d bars")
	addIf(negPrice, "negative prices in %d bars")
	addIf(negVol, "negative volume in %d bars")
	addIf(negBarCount, "negative barCount in %d bars")

	if len(errs) > 0 {
		return Result{IsValid: false, Message: "bar validation errors", ErrorDetails: errs, ValidatedBars: len(bars)}
	}
	return Result{IsValid: true, Message: "individual bar validation passed", ValidatedBars: len(bars)}
}

func checkTimeSequence(bars []domain.Bar) Result {
	seen := make(map[int64]struct{}, len(bars))
	for i, b := range bars {
		ts := b.TimestampUTC.Unix()
		if _, dup := seen[ts]; dup {
			return Result{
				IsValid: false, Message: "duplicate timestamps in bar data",
				ErrorDetails: []string{fmt.Sprintf("duplicate at index %d", i)},
			}
		}
		seen[ts] = struct{}{}
		if i > 0 && !b.TimestampUTC.After(bars[i-1].TimestampUTC) {
			return Result{
				IsValid: false, Message: "timestamps are not strictly increasing",
				ErrorDetails: []string{fmt.Sprintf("out of order at index %d", i)},
			}
		}
	}
	// Irregular intervals do not fail here: checkQuality reports them as a
	// warning in ErrorDetails, which the caller (fetch.Fetcher holds the
	// logger) logs. This package stays a pure function and does not log.
	return Result{IsValid: true, Message: "time sequence validation passed", ValidatedBars: len(bars)}
}

func checkCalendar(cal CalendarChecker, date time.Time, bars []domain.Bar) Result {
	if cal == nil {
		return Result{IsValid: true, Message: "no calendar checker configured", ValidatedBars: len(bars)}
	}
	if !cal.ValidateBarCount(date, len(bars)) {
		sched := cal.Schedule(date)
		return Result{
			IsValid: false,
			Message: fmt.Sprintf("bar count %d does not match expected %d for %s", len(bars), sched.ExpectedBars, sched.DayType),
			ValidatedBars: len(bars), ExpectedBars: sched.ExpectedBars,
		}
	}
	return Result{IsValid: true, Message: "calendar validation passed", ValidatedBars: len(bars)}
}

func checkQuality(bars []domain.Bar) Result {
	for i, b := range bars {
		if math.IsNaN(b.Open) || math.IsNaN(b.High) || math.IsNaN(b.Low) || math.IsNaN(b.Close) || math.IsNaN(b.Volume) {
			return Result{
				IsValid: false, Message: "missing values in required columns",
				ErrorDetails: []string{fmt.Sprintf("missing value at index %d", i)}, ValidatedBars: len(bars),
			}
		}
	}

	var warnings []string

	if len(bars) > 1 {
		extreme := 0
		for i := 1; i < len(bars); i++ {
			prev := bars[i-1].Close
			if prev == 0 {
				continue
			}
			change := (bars[i].Close - prev) / prev
			if change < -0.5 || change > 0.5 {
				extreme++
			}
		}
		if extreme > 0 {
			warnings = append(warnings, fmt.Sprintf("%d bars with extreme price movements (>50%%)", extreme))
		}
	}

	zeroVolume := 0
	for _, b := range bars {
		if b.Volume == 0 {
			zeroVolume++
		}
	}
	if zeroVolume > 0 {
		warnings = append(warnings, fmt.Sprintf("%d bars with zero volume", zeroVolume))
	}

	if len(bars) > 10 {
		median := medianVolume(bars)
		if median > 0 {
			high := 0
			for _, b := range bars {
				if b.Volume > median*100 {
					high++
				}
			}
			if high > 0 {
				warnings = append(warnings, fmt.Sprintf("%d bars with extremely high volume (>100x median)", high))
			}
		}
	}

	duplicate := 0
	for i := 1; i < len(bars); i++ {
		a, b := bars[i-1], bars[i]
		if a.Open == b.Open && a.High == b.High && a.Low == b.Low && a.Close == b.Close {
			duplicate++
		}
	}
	if duplicate > 0 {
		warnings = append(warnings, fmt.Sprintf("%d bars with identical price data to previous bar", duplicate))
	}

	irregular := 0
	for i := 1; i < len(bars); i++ {
		if bars[i].TimestampUTC.Sub(bars[i-1].TimestampUTC) != time.Minute {
			irregular++
		}
	}
	if irregular > 0 {
		warnings = append(warnings, fmt.Sprintf("%d bars at irregular intervals (not one minute after the previous bar)", irregular))
	}

	// Only missing values (NaN in a price or volume field, checked at the
	// top) are hard failures; everything else above is a warning surfaced
	// via ErrorDetails for the caller to log.
	return Result{IsValid: true, Message: "data quality validation passed", ErrorDetails: warnings, ValidatedBars: len(bars)}
}

func medianVolume(bars []domain.Bar) float64 {
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	for i := 1; i < len(vols); i++ {
		for j := i; j > 0 && vols[j-1] > vols[j]; j-- {
			vols[j-1], vols[j] = vols[j], vols[j-1]
		}
	}
	n := len(vols)
	if n%2 == 1 {
		return vols[n/2]
	}
	return (vols[n/2-1] + vols[n/2]) / 2
}
