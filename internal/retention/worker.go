// Package retention deletes interaction log partitions that have aged out.
package retention

import (
	"context"
	"time"
)

// DefaultInterval is how often a running daemon re-checks retention.
const DefaultInterval = time.Hour

// Pruner removes partitions older than a number of days and reports how many
// it deleted. Implemented by interactions.Store.
type Pruner interface {
	PruneOlderThan(days int) int
}

// Worker prunes logs at start-up and then on every tick.
type Worker struct {
	logs     Pruner
	days     int
	interval time.Duration
}

// NewWorker creates a Worker keeping days of history. A non-positive days
// disables pruning. If interval is <= 0, it defaults to DefaultInterval.
func NewWorker(logs Pruner, days int, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		logs:     logs,
		days:     days,
		interval: interval,
	}
}

// Run prunes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.days <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pruning pass and returns the number of
// partitions removed.
func (w *Worker) RunOnce() int {
	if w.days <= 0 {
		return 0
	}
	return w.logs.PruneOlderThan(w.days)
}
