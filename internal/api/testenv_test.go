package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/voxbar/internal/composer"
	"github.com/kalambet/voxbar/internal/credential"
	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/improve"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/profile"
	"github.com/kalambet/voxbar/internal/sampler"
	"github.com/kalambet/voxbar/internal/storage"
)

const testToken = "test-token-12345"

type stubDeriver struct {
	text string
}

func (d stubDeriver) DeriveForSweep(_ context.Context, sweepID string, area focus.Area, _, _ string) (storage.Suggestion, error) {
	return storage.Suggestion{Area: string(area), Text: d.text, SweepID: sweepID}, nil
}

type testEnv struct {
	handler   http.Handler
	store     *storage.Store
	logs      *interactions.Store
	profile   *profile.Manager
	scheduler *improve.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logs := interactions.New(t.TempDir())
	profileMgr := profile.NewManager(store)

	sched, err := improve.New(improve.Deps{
		Logs:        logs,
		Deriver:     stubDeriver{text: "Improved instructions."},
		Config:      profileMgr,
		State:       store,
		Credentials: credential.Static("sk-test-key-123"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, improve.Options{
		Enabled:            true,
		Cooldown:           improve.CooldownDays(7),
		DictationThreshold: 1000,
		Budget:             sampler.Budget{MaxEntries: 10, MaxTotalChars: 10000},
	})
	if err != nil {
		t.Fatalf("improve.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	env := &testEnv{
		store:     store,
		logs:      logs,
		profile:   profileMgr,
		scheduler: sched,
	}
	env.handler = NewAppHandler(AppDeps{
		Store:     store,
		Logs:      logs,
		Profile:   profileMgr,
		Composer:  composer.New(profileMgr, 0),
		Scheduler: sched,
		Token:     testToken,
	})
	return env
}

func (e *testEnv) mcpDeps() MCPDeps {
	return MCPDeps{Logs: e.logs, Profile: e.profile, Scheduler: e.scheduler}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}
