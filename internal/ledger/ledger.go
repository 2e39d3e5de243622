// Package ledger persists the per-symbol table of StatusRecords that drives
// resumability (SPEC_FULL.md §4.1). Writes are read-modify-write over the
// whole table and land on disk via a temp-file-plus-rename sequence so a
// crash mid-write cannot leave a half-written CSV behind.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lamweiwei/bardrifter/internal/domain"
	"github.com/sirupsen/logrus"
)

const header = "date,status,expected_bars,actual_bars,last_timestamp,error_message,retry_count"

const timestampLayout = "2006-01-02T15:04:05Z"

// Summary is the Ledger's rollup for one symbol.
type Summary struct {
	Total         int
	Completed     int
	Errors        int
	SuccessRate   float64
	OldestSuccess *time.Time
}

// Ledger stores StatusRecords on disk, one CSV file per symbol, rooted at
// dataDir (data/<SYMBOL>/bar_status.csv per SPEC_FULL.md §6).
type Ledger struct {
	dataDir string
	logger  *logrus.Logger

	mu    sync.Mutex
	cache map[string][]domain.StatusRecord
}

// New returns a Ledger rooted at dataDir. dataDir is created lazily, per
// symbol, on first write.
func New(dataDir string, logger *logrus.Logger) *Ledger {
	return &Ledger{dataDir: dataDir, logger: logger, cache: make(map[string][]domain.StatusRecord)}
}

func (l *Ledger) path(symbol string) string {
	return filepath.Join(l.dataDir, symbol, "bar_status.csv")
}

// validateSymbol rejects a symbol that would escape dataDir once joined
// into path(), mirroring the teacher's validateFilePath guard
// (internal/storage/storage.go) adapted to a single path segment: symbols
// come from an operator-maintained ticker CSV, not from the network, but
// the guard stays cheap enough to keep regardless.
func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("ledger: empty symbol")
	}
	clean := filepath.Clean(symbol)
	if clean != symbol || clean == "." || clean == ".." || strings.ContainsAny(symbol, `/\`) {
		return fmt.Errorf("ledger: invalid symbol %q", symbol)
	}
	return nil
}

// Load reads a symbol's table, tolerating malformed rows by logging and
// skipping them. Returns an empty slice when the file is absent.
func (l *Ledger) Load(symbol string) ([]domain.StatusRecord, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(symbol)
}

func (l *Ledger) loadLocked(symbol string) ([]domain.StatusRecord, error) {
	if cached, ok := l.cache[symbol]; ok {
		out := make([]domain.StatusRecord, len(cached))
		copy(out, cached)
		return out, nil
	}

	f, err := os.Open(l.path(symbol))
	if os.IsNotExist(err) {
		l.cache[symbol] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", symbol, err)
	}
	defer f.Close()

	records, err := parseCSV(f, symbol, l.logger)
	if err != nil {
		return nil, err
	}
	l.cache[symbol] = records
	out := make([]domain.StatusRecord, len(records))
	copy(out, records)
	return out, nil
}

func parseCSV(r io.Reader, symbol string, logger *logrus.Logger) ([]domain.StatusRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var out []domain.StatusRecord
	for i, row := range rows[1:] {
		rec, err := rowToRecord(row)
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"symbol": symbol,
					"row":    i + 2,
					"error":  err,
				}).Warn("ledger: skipping malformed row")
			}
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func rowToRecord(row []string) (domain.StatusRecord, error) {
	if len(row) < 7 {
		return domain.StatusRecord{}, fmt.Errorf("want 7 fields, got %d", len(row))
	}
	date, err := time.Parse("2006-01-02", row[0])
	if err != nil {
		return domain.StatusRecord{}, fmt.Errorf("bad date %q: %w", row[0], err)
	}
	expected, err := strconv.Atoi(row[2])
	if err != nil {
		return domain.StatusRecord{}, fmt.Errorf("bad expected_bars %q: %w", row[2], err)
	}
	actual, err := strconv.Atoi(row[3])
	if err != nil {
		return domain.StatusRecord{}, fmt.Errorf("bad actual_bars %q: %w", row[3], err)
	}
	retryCount, err := strconv.Atoi(row[6])
	if err != nil {
		return domain.StatusRecord{}, fmt.Errorf("bad retry_count %q: %w", row[6], err)
	}

	var last *time.Time
	if row[4] != "" {
		ts, err := time.Parse(timestampLayout, row[4])
		if err != nil {
			return domain.StatusRecord{}, fmt.Errorf("bad last_timestamp %q: %w", row[4], err)
		}
		last = &ts
	}

	return domain.StatusRecord{
		Date:          date.UTC(),
		Status:        domain.Status(row[1]),
		ExpectedBars:  expected,
		ActualBars:    actual,
		LastTimestamp: last,
		ErrorMessage:  row[5],
		RetryCount:    retryCount,
	}, nil
}

func recordToRow(r domain.StatusRecord) []string {
	last := ""
	if r.LastTimestamp != nil {
		last = r.LastTimestamp.UTC().Format(timestampLayout)
	}
	return []string{
		domain.DateKey(r.Date),
		string(r.Status),
		strconv.Itoa(r.ExpectedBars),
		strconv.Itoa(r.ActualBars),
		last,
		r.ErrorMessage,
		strconv.Itoa(r.RetryCount),
	}
}

// Upsert replaces the row whose date matches (day resolution) or appends a
// new one, then rewrites the whole table sorted ascending by date. The
// write is atomic: a crash mid-write cannot corrupt the file on disk.
func (l *Ledger) Upsert(symbol string, record domain.StatusRecord) error {
	if err := validateSymbol(symbol); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.loadLocked(symbol)
	if err != nil {
		return err
	}

	key := domain.DateKey(record.Date)
	replaced := false
	for i, existing := range records {
		if domain.DateKey(existing.Date) == key {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	if err := l.writeAtomic(symbol, records); err != nil {
		return err
	}
	l.cache[symbol] = records
	return nil
}

func (l *Ledger) writeAtomic(symbol string, records []domain.StatusRecord) error {
	dir := filepath.Join(l.dataDir, symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: mkdir %s: %w", symbol, err)
	}

	target := l.path(symbol)
	tmp, err := os.CreateTemp(dir, ".bar_status-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp file for %s: %w", symbol, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(strings.Split(header, ",")); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write header for %s: %w", symbol, err)
	}
	for _, r := range records {
		if err := w.Write(recordToRow(r)); err != nil {
			tmp.Close()
			return fmt.Errorf("ledger: write row for %s: %w", symbol, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: flush %s: %w", symbol, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: sync %s: %w", symbol, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp file for %s: %w", symbol, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("ledger: rename into place for %s: %w", symbol, err)
	}
	cleanup = false
	syncParentDir(dir, l.logger)
	return nil
}

func syncParentDir(dir string, logger *logrus.Logger) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil && logger != nil {
		logger.WithError(err).WithField("dir", dir).Warn("ledger: fsync parent directory failed")
	}
}

// CompletedDates returns the set of dates whose status is COMPLETE or
// EARLY_CLOSE (SPEC_FULL.md §4.1; HOLIDAY is terminal but is not included,
// so the Date Planner keeps such dates in its work list, §4.5).
func (l *Ledger) CompletedDates(symbol string) (map[string]struct{}, error) {
	records, err := l.Load(symbol)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, r := range records {
		if r.Status == domain.StatusComplete || r.Status == domain.StatusEarlyClose {
			out[domain.DateKey(r.Date)] = struct{}{}
		}
	}
	return out, nil
}

// ConsecutiveFailures counts the contiguous prefix of ERROR rows starting
// from the latest date. Retained from the original tool for backward
// compatibility; it is not the gate internal/retry uses to skip a symbol.
func (l *Ledger) ConsecutiveFailures(symbol string) (int, error) {
	records, err := l.Load(symbol)
	if err != nil {
		return 0, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
	count := 0
	for _, r := range records {
		if r.Status != domain.StatusError {
			break
		}
		count++
	}
	return count, nil
}

// Summary rolls up a symbol's table for the dry-run and exit-time reports.
func (l *Ledger) Summary(symbol string) (Summary, error) {
	records, err := l.Load(symbol)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	s.Total = len(records)
	for _, r := range records {
		switch r.Status {
		case domain.StatusComplete, domain.StatusEarlyClose:
			s.Completed++
			if s.OldestSuccess == nil || r.Date.Before(*s.OldestSuccess) {
				d := r.Date
				s.OldestSuccess = &d
			}
		case domain.StatusError:
			s.Errors++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total) * 100
	}
	return s, nil
}
