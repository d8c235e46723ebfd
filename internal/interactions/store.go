// Package interactions is the append-only, date-partitioned log of completed
// user operations. Each mode has its own directory of daily JSONL files:
//
//	<dataDir>/logs/<mode>/<YYYY-MM-DD>.jsonl
package interactions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/voxbar/internal/focus"
)

const (
	dateLayout = "2006-01-02"
	fileExt    = ".jsonl"
	maxLine    = 10 * 1024 * 1024
)

// Record is one logged user operation. Records are immutable once written.
type Record struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Mode      focus.Mode        `json:"mode"`
	Fields    map[string]string `json:"fields"`
}

// Store reads and writes log partitions under a root directory.
type Store struct {
	root   string
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex // serializes writers and deletions
}

// New creates a Store rooted at <dataDir>/logs. Directories are created lazily.
func New(dataDir string) *Store {
	return &Store{
		root:   filepath.Join(dataDir, "logs"),
		now:    time.Now,
		logger: slog.Default(),
	}
}

// NewWithClock creates a Store with an injectable clock (used by tests).
func NewWithClock(dataDir string, now func() time.Time) *Store {
	s := New(dataDir)
	s.now = now
	return s
}

// Root returns the directory holding all partitions.
func (s *Store) Root() string { return s.root }

// Append writes rec to the partition for its UTC date, assigning an ID and
// timestamp when missing. Failures are logged, never returned.
func (s *Store) Append(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}

	if err := s.write(rec); err != nil {
		s.logger.Warn("interaction log append failed", "mode", rec.Mode, "id", rec.ID, "error", err)
	}
	return rec
}

func (s *Store) write(rec Record) error {
	if _, err := focus.ParseMode(string(rec.Mode)); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, string(rec.Mode))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating partition directory: %w", err)
	}
	path := filepath.Join(dir, rec.Timestamp.Format(dateLayout)+fileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening partition: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing partition: %w", err)
	}
	return f.Close()
}

type partition struct {
	date time.Time
	path string
}

// partitions lists a mode's partition files in ascending date order. Files
// whose name is not a date are ignored.
func (s *Store) partitions(mode focus.Mode) []partition {
	dir := filepath.Join(s.root, string(mode))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("listing interaction partitions failed", "mode", mode, "error", err)
		}
		return nil
	}

	var parts []partition
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		d, err := time.Parse(dateLayout, strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		parts = append(parts, partition{date: d, path: filepath.Join(dir, name)})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].date.Before(parts[j].date) })
	return parts
}

// readPartition returns the well-formed records of one file sorted by
// timestamp. Malformed lines are skipped.
func (s *Store) readPartition(p partition) ([]Record, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var records []Record
	skipped := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil || rec.Timestamp.IsZero() {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed interaction lines", "path", p.path, "count", skipped)
	}
	if err := scanner.Err(); err != nil {
		// Keep what was read before the bad line.
		s.logger.Warn("scanning interaction partition", "path", p.path, "error", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// ReadRange lazily yields mode's records with since <= timestamp <= until in
// chronological order. Only partitions whose date overlaps the range are opened.
func (s *Store) ReadRange(mode focus.Mode, since, until time.Time) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		first := since.UTC().Truncate(24 * time.Hour)
		last := until.UTC().Truncate(24 * time.Hour)
		for _, p := range s.partitions(mode) {
			if p.date.Before(first) {
				continue
			}
			if p.date.After(last) {
				return
			}
			records, err := s.readPartition(p)
			if err != nil {
				s.logger.Warn("reading interaction partition failed", "path", p.path, "error", err)
				continue
			}
			for _, rec := range records {
				if rec.Timestamp.Before(since) || rec.Timestamp.After(until) {
					continue
				}
				if !yield(rec) {
					return
				}
			}
		}
	}
}

// ReadAreaWindow collects the records of every mode feeding area within
// [since, until], merged in chronological order.
func (s *Store) ReadAreaWindow(area focus.Area, since, until time.Time) []Record {
	var out []Record
	for _, mode := range area.Modes() {
		for rec := range s.ReadRange(mode, since, until) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Recent returns mode's records from the last days days, newest first,
// capped at limit (limit <= 0 means no cap).
func (s *Store) Recent(mode focus.Mode, days, limit int) []Record {
	now := s.now()
	var out []Record
	for rec := range s.ReadRange(mode, now.AddDate(0, 0, -days), now) {
		out = append(out, rec)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Oldest returns the timestamp of the oldest readable record across all modes.
func (s *Store) Oldest() (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, mode := range focus.Modes() {
		for _, p := range s.partitions(mode) {
			if found && p.date.After(oldest.Truncate(24*time.Hour)) {
				break
			}
			records, err := s.readPartition(p)
			if err != nil || len(records) == 0 {
				continue
			}
			if !found || records[0].Timestamp.Before(oldest) {
				oldest = records[0].Timestamp
				found = true
			}
			break
		}
	}
	return oldest, found
}

// PruneOlderThan deletes every partition dated before today minus days and
// returns how many were removed. Failures are logged and skipped.
func (s *Store) PruneOlderThan(days int) int {
	if days <= 0 {
		return 0
	}
	cutoff := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, mode := range focus.Modes() {
		for _, p := range s.partitions(mode) {
			if !p.date.Before(cutoff) {
				break
			}
			if err := os.Remove(p.path); err != nil {
				s.logger.Warn("pruning interaction partition failed", "path", p.path, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("pruned interaction partitions", "count", removed, "retention_days", days)
	}
	return removed
}

// DeleteAll removes every partition of every mode.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("removing interaction logs: %w", err)
	}
	return nil
}
