package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// handleImproveEvents streams sweep summaries as server-sent events until
// the client disconnects.
func handleImproveEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		events, cancel := deps.Scheduler.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": subscribed\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case sum, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(sum)
				if err != nil {
					slog.Warn("encoding sweep event failed", "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: sweep\ndata: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
