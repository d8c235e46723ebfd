package improve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/storage"
)

// err reports the error a manual caller sees: nil unless areas were
// attempted and none of them produced a suggestion.
func (s Summary) err() error {
	if len(s.Failed) == 0 || s.derived > 0 {
		return nil
	}
	errs := []error{ErrSweepFailed}
	for _, a := range focus.Areas() {
		if err, ok := s.Failed[a]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runSweep derives a suggestion for every area, applies the useful ones and
// records the outcome. Per-area failures never abort the others.
func (s *Scheduler) runSweep(ctx context.Context, manual bool) Summary {
	s.mu.Lock()
	opts := s.opts
	gen := s.wipes
	s.mu.Unlock()

	sum := Summary{
		ID:        uuid.NewString(),
		StartedAt: s.clock.Now().UTC(),
		Failed:    make(map[focus.Area]error),
		Manual:    manual,
	}
	logger := s.logger.With("sweep", sum.ID)
	logger.Info("improvement sweep started", "manual", manual)

	until := sum.StartedAt
	since := until.Add(-time.Duration(opts.WindowDays) * 24 * time.Hour)

	var (
		mu          sync.Mutex
		suggestions = make(map[focus.Area]string)
		seen        = make(map[focus.Area]string) // value each derivation started from
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, area := range focus.Areas() {
		g.Go(func() error {
			records := s.logs.ReadAreaWindow(area, since, until)
			corpus := s.sampler.Sample(area, records, opts.Budget)
			if len(corpus.Entries) == 0 {
				logger.Debug("no interactions for area", "area", area)
				return nil
			}

			current, err := s.config.CurrentValue(area)
			if err != nil {
				mu.Lock()
				sum.Failed[area] = fmt.Errorf("reading current value: %w", err)
				mu.Unlock()
				return nil
			}

			sg, err := s.deriver.DeriveForSweep(gctx, sum.ID, area, corpus.Text, current)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("derivation failed", "area", area, "error", err)
				sum.Failed[area] = err
				return nil
			}
			suggestions[area] = sg.Text
			seen[area] = current
			return nil
		})
	}
	// Workers never return errors; failures live in sum.Failed.
	_ = g.Wait()

	s.writeMu.Lock()
	s.mu.Lock()
	sum.Discarded = s.wipes != gen
	s.mu.Unlock()
	if sum.Discarded {
		logger.Info("user data deleted during sweep, discarding results")
	}

	for _, area := range focus.Areas() {
		text, ok := suggestions[area]
		if !ok {
			continue
		}
		if !sum.Discarded {
			s.apply(logger, &sum, area, strings.TrimSpace(text), seen[area])
		}
		if err := s.state.DeleteSuggestion(string(area)); err != nil {
			logger.Warn("clearing suggestion failed", "area", area, "error", err)
		}
	}

	sum.derived = len(suggestions)
	sum.FinishedAt = s.clock.Now().UTC()

	if !sum.Discarded {
		s.mu.Lock()
		s.counter = 0
		s.lastRunAt = sum.FinishedAt
		s.mu.Unlock()
		s.persist(stateCounter, "0")
		s.persist(stateLastRunAt, sum.FinishedAt.Format(time.RFC3339Nano))
		s.record(sum)
	}
	s.writeMu.Unlock()

	if n := s.events.publish(sum); n > 0 {
		logger.Warn("sweep summary dropped for slow subscribers", "count", n)
	}
	logger.Info("improvement sweep finished",
		"applied", len(sum.Applied),
		"failed", len(sum.Failed),
		"discarded", sum.Discarded,
		"duration", sum.FinishedAt.Sub(sum.StartedAt))
	return sum
}

// apply writes text to area unless it is empty, equal to the current value,
// or the user changed the value after derivation started. Caller holds
// s.writeMu.
func (s *Scheduler) apply(logger *slog.Logger, sum *Summary, area focus.Area, text, derivedFrom string) {
	current, err := s.config.CurrentValue(area)
	switch {
	case text == "":
		logger.Info("no usable suggestion", "area", area)
	case err != nil:
		sum.Failed[area] = fmt.Errorf("reading current value: %w", err)
	case current != derivedFrom:
		logger.Info("focus value changed during sweep, keeping it", "area", area)
	case text == strings.TrimSpace(current):
		logger.Info("suggestion matches current value", "area", area)
	default:
		if err := s.config.Apply(area, text); err != nil {
			sum.Failed[area] = fmt.Errorf("applying suggestion: %w", err)
			return
		}
		sum.Applied = append(sum.Applied, area)
		logger.Info("focus value updated", "area", area)
	}
}

// record stores the sweep in the history table.
func (s *Scheduler) record(sum Summary) {
	applied := make([]string, 0, len(sum.Applied))
	for _, a := range sum.Applied {
		applied = append(applied, string(a))
	}
	appliedJSON, _ := json.Marshal(applied)
	failedJSON, _ := json.Marshal(sum.FailedMessages())

	err := s.state.SaveSweep(storage.Sweep{
		ID:         sum.ID,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Manual:     sum.Manual,
		Applied:    string(appliedJSON),
		Failed:     string(failedJSON),
	})
	if err != nil {
		s.logger.Warn("saving sweep history failed", "sweep", sum.ID, "error", err)
	}
}

// AppliedNames is a display helper for notifications.
func (s Summary) AppliedNames() string {
	if len(s.Applied) == 0 {
		return ""
	}
	names := make([]string, len(s.Applied))
	for i, a := range s.Applied {
		names[i] = a.Label()
	}
	return strings.Join(names, ", ")
}
