package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/voxbar/internal/composer"
	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/improve"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/profile"
	"github.com/kalambet/voxbar/internal/storage"
)

// LogInteractionRequest is the body of POST /interactions.
type LogInteractionRequest struct {
	Mode      string            `json:"mode"`
	Fields    map[string]string `json:"fields"`
	Timestamp time.Time         `json:"timestamp,omitzero"`
}

type sweepView struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Manual     bool            `json:"manual"`
	Applied    json.RawMessage `json:"applied"`
	Failed     json.RawMessage `json:"failed"`
}

type AppDeps struct {
	Store     *storage.Store
	Logs      *interactions.Store
	Profile   *profile.Manager
	Composer  *composer.Composer
	Scheduler *improve.Scheduler
	Token     string
}

// NewAppHandler returns the local API used by the menu-bar app. Everything
// except /health requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/interactions", handleLogInteraction(deps))
		r.Get("/interactions", handleListInteractions(deps))

		r.Get("/focus", handleListFocus(deps))
		r.Get("/focus/{area}", handleGetFocus(deps))
		r.Put("/focus/{area}", handleSetFocus(deps))
		r.Delete("/focus/{area}", handleResetFocus(deps))
		r.Post("/focus/{area}/restore", handleRestoreFocus(deps))

		r.Get("/prompts/{mode}", handleGetPrompt(deps))

		r.Get("/improve/status", handleImproveStatus(deps))
		r.Post("/improve/run", handleImproveRun(deps))
		r.Get("/improve/history", handleImproveHistory(deps))
		r.Get("/improve/events", handleImproveEvents(deps))

		r.Delete("/data", handleDeleteData(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleLogInteraction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req LogInteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		mode, err := focus.ParseMode(req.Mode)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		rec := deps.Logs.Append(interactions.Record{
			Mode:      mode,
			Timestamp: req.Timestamp,
			Fields:    req.Fields,
		})
		deps.Scheduler.NotifyOperationCompleted(r.Context())

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     rec.ID,
			"status": "logged",
		})
	}
}

// handleListInteractions returns recent records, newest first. Without a
// mode parameter every stream is included.
func handleListInteractions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", 7, 30)
		limit := parseIntParam(r, "limit", 20, 100)

		var records []interactions.Record
		if m := r.URL.Query().Get("mode"); m != "" {
			mode, err := focus.ParseMode(m)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			records = deps.Logs.Recent(mode, days, limit)
		} else {
			now := time.Now()
			records = deps.Logs.ReadAreaWindow(focus.AreaUserContext, now.AddDate(0, 0, -days), now)
			sort.SliceStable(records, func(i, j int) bool {
				return records[i].Timestamp.After(records[j].Timestamp)
			})
			if len(records) > limit {
				records = records[:limit]
			}
		}

		if records == nil {
			records = []interactions.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func areaParam(w http.ResponseWriter, r *http.Request) (focus.Area, bool) {
	area, err := focus.ParseArea(chi.URLParam(r, "area"))
	if err != nil {
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
		return "", false
	}
	return area, true
}

func handleListFocus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Profile.Entries()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read focus values: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetFocus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		area, ok := areaParam(w, r)
		if !ok {
			return
		}
		entry, err := deps.Profile.Entry(area)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read %s: %v", area, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleSetFocus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		area, ok := areaParam(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if body.Value == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}
		if err := deps.Profile.Set(area, body.Value); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update %s: %v", area, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleResetFocus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		area, ok := areaParam(w, r)
		if !ok {
			return
		}
		if err := deps.Profile.Reset(area); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset %s: %v", area, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleRestoreFocus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		area, ok := areaParam(w, r)
		if !ok {
			return
		}
		restored, err := deps.Scheduler.Restore(area)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to restore %s: %v", area, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"restored": restored})
	}
}

func handleGetPrompt(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, err := focus.ParseMode(chi.URLParam(r, "mode"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
			return
		}
		p, err := deps.Composer.Compose(mode)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build prompt: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleImproveStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Scheduler.Status())
	}
}

func handleImproveRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Scheduler.RunNow(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, sum)
		case errors.Is(err, improve.ErrDisabled):
			httpError(w, http.StatusConflict, "disabled", "%v", err)
		case errors.Is(err, improve.ErrMissingCredential):
			httpError(w, http.StatusPreconditionFailed, "missing_credential", "%v", err)
		case errors.Is(err, improve.ErrInsufficientHistory):
			httpError(w, http.StatusConflict, "insufficient_history", "%v", err)
		case errors.Is(err, improve.ErrSweepFailed):
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
		default:
			httpError(w, http.StatusServiceUnavailable, "api_error", "improvement did not complete: %v", err)
		}
	}
}

func handleImproveHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)
		sweeps, err := deps.Store.RecentSweeps(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sweeps: %v", err)
			return
		}
		out := make([]sweepView, len(sweeps))
		for i, sw := range sweeps {
			out[i] = sweepView{
				ID:         sw.ID,
				StartedAt:  sw.StartedAt,
				FinishedAt: sw.FinishedAt,
				Manual:     sw.Manual,
				Applied:    json.RawMessage(sw.Applied),
				Failed:     json.RawMessage(sw.Failed),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteData(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Scheduler.DeleteAllData(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete data: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
