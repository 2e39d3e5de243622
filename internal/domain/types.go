// Package domain holds the value types shared across every component of the
// fetch pipeline: bars, contracts, schedules, status records and the small
// state machines that model a Job and the shutdown sequence.
package domain

import "time"

// Status is the outcome of a single (symbol, date) attempt.
type Status string

// Recognized day/attempt outcomes. PENDING only appears transiently, before
// the scheduler has written a record for the date.
const (
	StatusComplete   Status = "COMPLETE"
	StatusEarlyClose Status = "EARLY_CLOSE"
	StatusHoliday    Status = "HOLIDAY"
	StatusError      Status = "ERROR"
	StatusPending    Status = "PENDING"
)

// Terminal reports whether a status represents a finished, non-retryable
// outcome for a date (COMPLETE, EARLY_CLOSE or HOLIDAY).
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusEarlyClose, StatusHoliday:
		return true
	default:
		return false
	}
}

// FailureType classifies why a date attempt failed. The zero value is
// FailureNone.
type FailureType string

const (
	FailureNone       FailureType = ""
	FailureNoData     FailureType = "NO_DATA"
	FailureNetwork    FailureType = "NETWORK"
	FailureAPI        FailureType = "API"
	FailureValidation FailureType = "VALIDATION"
	FailureUnknown    FailureType = "UNKNOWN"
)

// DayType is the Calendar Adapter's classification of a trading session.
type DayType string

const (
	DayRegular         DayType = "regular_day"
	DayEarlyCloseShort DayType = "early_close_short"
	DayEarlyCloseLong  DayType = "early_close_regular"
	DayHoliday         DayType = "holiday"
)

// Bar is one OHLCV sample. The pipeline never retains bars after the owning
// day is written to disk; it is a write-and-forget value.
type Bar struct {
	TimestampUTC time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	BarCount     int
}

// Contract is a resolved instrument, produced by a ContractResolver from the
// ticker table.
type Contract struct {
	Symbol                        string
	SecType                       string // STK, FUT, OPT
	Exchange                      string
	Currency                      string
	LastTradeDateOrContractMonth  string
	Strike                        float64
	Right                         string
	Multiplier                    string
}

// Schedule is the Calendar Adapter's answer for a single date.
type Schedule struct {
	Date          time.Time
	IsTradingDay  bool
	DayType       DayType
	ExpectedBars  int
	MarketOpen    time.Time
	MarketClose   time.Time
}

// StatusRecord is one ledger row: the persisted outcome of a (symbol, date)
// attempt. Dates are compared at day resolution; all timestamps are UTC.
type StatusRecord struct {
	Date          time.Time
	Status        Status
	ExpectedBars  int
	ActualBars    int
	LastTimestamp *time.Time
	ErrorMessage  string
	RetryCount    int
}

// CivilDate truncates a timestamp to UTC midnight, the key used throughout
// the pipeline for addressing a trading session.
func CivilDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey renders a civil date as the y-m-d string used as a map key, per
// SPEC_FULL.md §9 ("a date key should be the civil date to avoid timezone
// bugs").
func DateKey(t time.Time) string {
	return CivilDate(t).Format("2006-01-02")
}
