// Package sampler selects a recency-biased, size-bounded subset of
// interaction records and renders it as text for the derivation prompt.
package sampler

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/interactions"
)

const (
	// DefaultMaxFieldChars bounds any single field value, in runes.
	DefaultMaxFieldChars = 2000

	day = 24 * time.Hour
)

// Tier boundaries, measured as age relative to now.
var tierBounds = [3]time.Duration{7 * day, 14 * day, 30 * day}

// Budget limits the size of a corpus.
type Budget struct {
	MaxEntries    int
	MaxTotalChars int
}

// Corpus is the sampled, serialized input for one area.
type Corpus struct {
	Area       focus.Area
	Entries    []interactions.Record // oldest first
	Text       string
	TotalChars int // runes in Text
}

// Sampler holds the clock and truncation limit. The zero value is usable.
type Sampler struct {
	Now           func() time.Time
	MaxFieldChars int
}

// New returns a Sampler using the wall clock.
func New() *Sampler {
	return &Sampler{Now: time.Now, MaxFieldChars: DefaultMaxFieldChars}
}

func (s *Sampler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Sampler) fieldLimit() int {
	if s.MaxFieldChars <= 0 {
		return DefaultMaxFieldChars
	}
	return s.MaxFieldChars
}

// Allocate splits maxEntries 50/30/20 across the three tiers. The oldest
// tier takes the rounding remainder so the shares always sum to maxEntries.
func Allocate(maxEntries int) [3]int {
	if maxEntries <= 0 {
		return [3]int{}
	}
	t1 := maxEntries * 50 / 100
	t2 := maxEntries * 30 / 100
	return [3]int{t1, t2, maxEntries - t1 - t2}
}

// Sample builds the corpus for area from records. Records older than the
// last tier are dropped; records stamped in the future count as newest.
func (s *Sampler) Sample(area focus.Area, records []interactions.Record, budget Budget) Corpus {
	out := Corpus{Area: area}
	if len(records) == 0 || budget.MaxEntries <= 0 || budget.MaxTotalChars <= 0 {
		return out
	}

	now := s.now()
	var tiers [3][]interactions.Record
	for _, r := range records {
		age := now.Sub(r.Timestamp)
		switch {
		case age < tierBounds[0]:
			tiers[0] = append(tiers[0], r)
		case age < tierBounds[1]:
			tiers[1] = append(tiers[1], r)
		case age <= tierBounds[2]:
			tiers[2] = append(tiers[2], r)
		}
	}

	shares := Allocate(budget.MaxEntries)
	var picked []interactions.Record
	for i, tier := range tiers {
		sortByTime(tier)
		picked = append(picked, spread(tier, shares[i])...)
	}
	sortByTime(picked)

	limit := s.fieldLimit()
	blocks := make([]string, len(picked))
	for i := range picked {
		picked[i] = truncateFields(picked[i], limit)
		blocks[i] = renderBlock(picked[i])
	}

	// Drop oldest first: keep the longest newest suffix that fits.
	start := len(blocks)
	total := 0
	for i := len(blocks) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(blocks[i])
		if total+n > budget.MaxTotalChars {
			break
		}
		total += n
		start = i
	}

	out.Entries = picked[start:]
	out.Text = strings.Join(blocks[start:], "")
	out.TotalChars = total
	return out
}

// spread picks share evenly spaced records at floor(i*count/share).
func spread(tier []interactions.Record, share int) []interactions.Record {
	count := len(tier)
	if share <= 0 || count == 0 {
		return nil
	}
	if count <= share {
		return tier
	}
	out := make([]interactions.Record, 0, share)
	for i := range share {
		out = append(out, tier[i*count/share])
	}
	return out
}

func sortByTime(rs []interactions.Record) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp.Before(rs[j].Timestamp) })
}

func truncateFields(r interactions.Record, limit int) interactions.Record {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = truncateRunes(v, limit)
	}
	r.Fields = fields
	return r
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// renderBlock serializes one record. Field keys are sorted so output is
// deterministic.
func renderBlock(r interactions.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s (%s)\n", r.Timestamp.UTC().Format(time.RFC3339), r.Mode)

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, r.Fields[k])
	}
	b.WriteString("\n")
	return b.String()
}
