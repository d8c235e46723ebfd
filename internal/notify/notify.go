// Package notify shows a transient desktop notification when an improvement
// sweep changes something.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/kalambet/voxbar/internal/improve"
)

const title = "voxbar"

// NotifyFunc displays one notification.
type NotifyFunc func(title, message string) error

// Desktop shows a notification through the OS notification center.
func Desktop(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Notifier turns sweep summaries into notifications.
type Notifier struct {
	notify NotifyFunc
	logger *slog.Logger
}

// New returns a Notifier. A nil fn uses Desktop.
func New(fn NotifyFunc) *Notifier {
	if fn == nil {
		fn = Desktop
	}
	return &Notifier{notify: fn, logger: slog.Default()}
}

// Watch consumes summaries until ctx is done or events is closed.
func (n *Notifier) Watch(ctx context.Context, events <-chan improve.Summary) {
	for {
		select {
		case <-ctx.Done():
			return
		case sum, ok := <-events:
			if !ok {
				return
			}
			msg := Message(sum)
			if msg == "" {
				continue
			}
			if err := n.notify(title, msg); err != nil {
				n.logger.Warn("desktop notification failed", "error", err)
			}
		}
	}
}

// Message is the notification text for a sweep, or "" when there is nothing
// worth showing. Automatic sweeps that changed nothing stay silent.
func Message(sum improve.Summary) string {
	var parts []string
	if len(sum.Applied) > 0 {
		parts = append(parts, "Updated "+sum.AppliedNames()+".")
	}
	if len(sum.Failed) > 0 && (sum.Manual || len(sum.Applied) > 0) {
		failed := make([]string, 0, len(sum.Failed))
		for a := range sum.Failed {
			failed = append(failed, a.Label())
		}
		sort.Strings(failed)
		parts = append(parts, fmt.Sprintf("Could not improve %s.", strings.Join(failed, ", ")))
	}
	if len(parts) == 0 && sum.Manual {
		return "No changes suggested."
	}
	return strings.Join(parts, " ")
}
