// Package retry implements the Smart Retry Manager (SPEC_FULL.md §4.6): it
// classifies failures, caps per-date attempts, and latches a per-symbol
// no-data streak that lets the scheduler give up on pre-IPO walks in
// bounded time.
package retry

import (
	"strings"
	"sync"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
)

// Config controls the policy's thresholds. New replaces zero or negative
// values with the package defaults.
type Config struct {
	MaxRetriesPerDate       int
	MaxConsecutiveNoDataDays int
}

// DefaultConfig matches SPEC_FULL.md §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{MaxRetriesPerDate: 3, MaxConsecutiveNoDataDays: 10}
}

func (c Config) normalize() Config {
	if c.MaxRetriesPerDate <= 0 {
		c.MaxRetriesPerDate = 3
	}
	if c.MaxConsecutiveNoDataDays <= 0 {
		c.MaxConsecutiveNoDataDays = 10
	}
	return c
}

type dateAttempt struct {
	retryCount      int
	failureType     domain.FailureType
	lastAttemptUTC  time.Time
}

type symbolState struct {
	consecutiveNoDataDays int
	dateAttempts          map[string]*dateAttempt
	shouldSkip            bool
}

// Policy is the Smart Retry Manager. It owns all per-symbol retry state in
// memory; nothing here is persisted, per SPEC_FULL.md §3.
type Policy struct {
	cfg Config

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// New returns a Policy with the given configuration.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg.normalize(), symbols: make(map[string]*symbolState)}
}

func (p *Policy) state(symbol string) *symbolState {
	s, ok := p.symbols[symbol]
	if !ok {
		s = &symbolState{dateAttempts: make(map[string]*dateAttempt)}
		p.symbols[symbol] = s
	}
	return s
}

// ShouldSkipSymbol reports whether the symbol's no-data streak has latched.
// Once true it never reverts, not even after a RecordSuccess.
func (p *Policy) ShouldSkipSymbol(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state(symbol).shouldSkip
}

// CanRetryDate reports whether another attempt at (symbol, date) is
// permitted. A date with no prior failure can always be attempted.
func (p *Policy) CanRetryDate(symbol string, date time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state(symbol)
	att, ok := s.dateAttempts[domain.DateKey(date)]
	if !ok {
		return true
	}
	return att.retryCount < p.cfg.MaxRetriesPerDate
}

// RecordFailure classifies message, records the attempt, and — when the
// date has exhausted its retry budget with failure type NO_DATA —
// increments the symbol's no-data streak, latching ShouldSkipSymbol once
// the streak reaches MaxConsecutiveNoDataDays.
func (p *Policy) RecordFailure(symbol string, date time.Time, message string, dataReceived bool) domain.FailureType {
	failureType := Classify(message, dataReceived)

	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state(symbol)
	key := domain.DateKey(date)
	att, ok := s.dateAttempts[key]
	if !ok {
		att = &dateAttempt{}
		s.dateAttempts[key] = att
	}
	att.retryCount++
	att.failureType = failureType
	att.lastAttemptUTC = time.Now().UTC()

	if att.retryCount >= p.cfg.MaxRetriesPerDate && failureType == domain.FailureNoData {
		s.consecutiveNoDataDays++
		if s.consecutiveNoDataDays >= p.cfg.MaxConsecutiveNoDataDays {
			s.shouldSkip = true
		}
	}
	return failureType
}

// RecordSuccess clears the date's retry-tracking entry entirely and zeroes
// the symbol's no-data streak.
func (p *Policy) RecordSuccess(symbol string, date time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state(symbol)
	delete(s.dateAttempts, domain.DateKey(date))
	s.consecutiveNoDataDays = 0
}

// RetryCount returns the attempts consumed so far for (symbol, date).
func (p *Policy) RetryCount(symbol string, date time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	att, ok := p.state(symbol).dateAttempts[domain.DateKey(date)]
	if !ok {
		return 0
	}
	return att.retryCount
}

// ConsecutiveNoDataDays exposes the symbol's current streak, for tests and
// the dashboard.
func (p *Policy) ConsecutiveNoDataDays(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state(symbol).consecutiveNoDataDays
}

var noDataKeywords = []string{"no data", "empty", "zero bars", "no historical data", "data not available"}
var networkKeywords = []string{"timeout", "connection", "network", "socket", "disconnected"}
var apiKeywords = []string{"api error", "request limit", "rate limit", "invalid contract", "market data", "permission", "subscription"}
var validationKeywords = []string{"validation", "invalid data", "corrupt", "malformed", "data quality"}

// Classify matches message against the keyword sets in SPEC_FULL.md §4.6,
// case-insensitive, in NO_DATA / NETWORK / API / VALIDATION order, falling
// back to UNKNOWN. An empty result (dataReceived=false) is always NO_DATA
// regardless of the message text (SPEC_FULL.md §8 invariant 6).
func Classify(message string, dataReceived bool) domain.FailureType {
	if !dataReceived {
		return domain.FailureNoData
	}
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, noDataKeywords):
		return domain.FailureNoData
	case containsAny(lower, networkKeywords):
		return domain.FailureNetwork
	case containsAny(lower, apiKeywords):
		return domain.FailureAPI
	case containsAny(lower, validationKeywords):
		return domain.FailureValidation
	default:
		return domain.FailureUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
