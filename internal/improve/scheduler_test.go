package improve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/sampler"
	"github.com/kalambet/voxbar/internal/storage"
)

// --- Fakes ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type fakeLogs struct {
	mu       sync.Mutex
	records  map[focus.Area][]interactions.Record
	oldest   time.Time
	deleted  bool
	onOldest func() // runs before Oldest reads, outside l.mu
}

func (l *fakeLogs) ReadAreaWindow(area focus.Area, since, until time.Time) []interactions.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[area]
}

func (l *fakeLogs) Oldest() (time.Time, bool) {
	if l.onOldest != nil {
		l.onOldest()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.oldest, !l.oldest.IsZero()
}

func (l *fakeLogs) DeleteAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = true
	l.records = nil
	l.oldest = time.Time{}
	return nil
}

type fakeDeriver struct {
	mu      sync.Mutex
	calls   int
	text    map[focus.Area]string
	fail    map[focus.Area]error
	release chan struct{}   // when set, every call waits for it
	entered chan focus.Area // when set, receives each area before it waits
}

func (d *fakeDeriver) DeriveForSweep(ctx context.Context, sweepID string, area focus.Area, corpusText, currentValue string) (storage.Suggestion, error) {
	if d.entered != nil {
		d.entered <- area
	}
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return storage.Suggestion{}, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := d.fail[area]; err != nil {
		return storage.Suggestion{}, err
	}
	return storage.Suggestion{Area: string(area), Text: d.text[area], SweepID: sweepID}, nil
}

func (d *fakeDeriver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeConfig struct {
	mu       sync.Mutex
	values   map[focus.Area]string
	previous map[focus.Area]string
	resets   int
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{values: map[focus.Area]string{}, previous: map[focus.Area]string{}}
}

func (c *fakeConfig) CurrentValue(area focus.Area) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[area]; ok {
		return v, nil
	}
	return focus.Default(area), nil
}

func (c *fakeConfig) Apply(area focus.Area, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.values[area]
	if !ok {
		prev = focus.Default(area)
	}
	c.previous[area] = prev
	c.values[area] = value
	return nil
}

func (c *fakeConfig) Restore(area focus.Area) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.previous[area]
	if !ok {
		return false, nil
	}
	c.previous[area] = c.values[area]
	c.values[area] = prev
	return true, nil
}

func (c *fakeConfig) ResetAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[focus.Area]string{}
	c.previous = map[focus.Area]string{}
	c.resets++
	return nil
}

func (c *fakeConfig) value(area focus.Area) string {
	v, _ := c.CurrentValue(area)
	return v
}

type fakeState struct {
	mu                sync.Mutex
	kv                map[string]string
	suggestionDeletes int
	sweeps            []storage.Sweep
}

func newFakeState() *fakeState { return &fakeState{kv: map[string]string{}} }

func (s *fakeState) GetState(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *fakeState) SetState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *fakeState) DeleteState(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *fakeState) DeleteSuggestion(area string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestionDeletes++
	return nil
}

func (s *fakeState) DeleteAllSuggestions() error { return nil }

func (s *fakeState) SaveSweep(sw storage.Sweep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, sw)
	return nil
}

func (s *fakeState) DeleteAllSweeps() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = nil
	return nil
}

func (s *fakeState) sweepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sweeps)
}

func (s *fakeState) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv[key]
}

type staticCreds bool

func (c staticCreds) HasValidCredential() bool { return bool(c) }

// --- Harness ---

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	s       *Scheduler
	clock   *fakeClock
	logs    *fakeLogs
	deriver *fakeDeriver
	config  *fakeConfig
	state   *fakeState
	events  <-chan Summary
}

func seededLogs(now time.Time) *fakeLogs {
	l := &fakeLogs{records: map[focus.Area][]interactions.Record{}, oldest: now.AddDate(0, 0, -20)}
	for _, area := range focus.Areas() {
		mode := area.Modes()[0]
		for i := range 3 {
			l.records[area] = append(l.records[area], interactions.Record{
				ID:        fmt.Sprintf("%s-%d", area, i),
				Timestamp: now.Add(-time.Duration(i+1) * 24 * time.Hour),
				Mode:      mode,
				Fields:    map[string]string{"transcript": "some words"},
			})
		}
	}
	return l
}

func testOptions() Options {
	return Options{
		Enabled:               true,
		Cooldown:              CooldownAlways,
		DictationThreshold:    2,
		MinInteractionAgeDays: 7,
		Budget:                sampler.Budget{MaxEntries: 10, MaxTotalChars: 10000},
	}
}

func newHarness(t *testing.T, opts Options, creds bool, state *fakeState) *harness {
	t.Helper()
	if state == nil {
		state = newFakeState()
	}
	h := &harness{
		clock: &fakeClock{t: testNow},
		logs:  seededLogs(testNow),
		deriver: &fakeDeriver{text: map[focus.Area]string{
			focus.AreaUserContext:   "Writes Go services.",
			focus.AreaDictation:     "Keep technical terms verbatim.",
			focus.AreaPromptMode:    "Answer tersely.",
			focus.AreaPromptAndRead: "Short spoken answers.",
		}},
		config: newFakeConfig(),
		state:  state,
	}
	s, err := New(Deps{
		Logs:        h.logs,
		Deriver:     h.deriver,
		Config:      h.config,
		State:       h.state,
		Credentials: staticCreds(creds),
		Clock:       h.clock,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	events, cancelSub := s.Subscribe()
	h.events = events
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		cancelSub()
	})
	return h
}

func (h *harness) waitSweep(t *testing.T) Summary {
	t.Helper()
	select {
	case sum := <-h.events:
		return sum
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep")
		return Summary{}
	}
}

// blockDerivations makes the next sweep wait in the deriver until the
// returned func is called.
func (h *harness) blockDerivations() (release func()) {
	h.deriver.release = make(chan struct{})
	h.deriver.entered = make(chan focus.Area, len(focus.Areas()))
	return sync.OnceFunc(func() { close(h.deriver.release) })
}

// waitDerivations returns once every area's derivation is in flight.
func (h *harness) waitDerivations(t *testing.T) {
	t.Helper()
	for range focus.Areas() {
		select {
		case <-h.deriver.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for derivations to start")
		}
	}
}

func (h *harness) expectNoSweep(t *testing.T) {
	t.Helper()
	select {
	case sum := <-h.events:
		t.Fatalf("unexpected sweep %s", sum.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

// --- Tests ---

func TestThresholdTriggersOneSweep(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	ctx := context.Background()

	h.s.NotifyOperationCompleted(ctx)
	h.expectNoSweep(t)
	h.s.NotifyOperationCompleted(ctx)

	sum := h.waitSweep(t)
	if len(sum.Applied) != len(focus.Areas()) {
		t.Errorf("applied %v, want every area", sum.Applied)
	}
	if sum.Manual {
		t.Error("automatic sweep reported as manual")
	}
	h.expectNoSweep(t)

	st := h.s.Status()
	if st.DictationCounter != 0 {
		t.Errorf("counter = %d, want 0", st.DictationCounter)
	}
	if !st.LastRunAt.Equal(testNow) {
		t.Errorf("last run = %v, want %v", st.LastRunAt, testNow)
	}
	if got := h.state.get(stateCounter); got != "0" {
		t.Errorf("persisted counter = %q, want 0", got)
	}
	if got := h.config.value(focus.AreaDictation); got != "Keep technical terms verbatim." {
		t.Errorf("dictation value = %q", got)
	}
	if h.state.suggestionDeletes != len(focus.Areas()) {
		t.Errorf("suggestion deletes = %d, want %d", h.state.suggestionDeletes, len(focus.Areas()))
	}
	if len(h.state.sweeps) != 1 {
		t.Errorf("sweep history = %d entries, want 1", len(h.state.sweeps))
	}
}

func TestCooldownBlocksSweep(t *testing.T) {
	state := newFakeState()
	state.kv[stateLastRunAt] = testNow.Add(-24 * time.Hour).Format(time.RFC3339Nano)

	opts := testOptions()
	opts.Cooldown = CooldownDays(7)
	h := newHarness(t, opts, true, state)

	h.s.NotifyOperationCompleted(context.Background())
	h.s.NotifyOperationCompleted(context.Background())
	h.expectNoSweep(t)

	if got := h.s.Status().DictationCounter; got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}
	if h.deriver.Calls() != 0 {
		t.Errorf("deriver called %d times", h.deriver.Calls())
	}
}

func TestCooldownElapsedAllowsSweep(t *testing.T) {
	state := newFakeState()
	state.kv[stateLastRunAt] = testNow.Add(-8 * 24 * time.Hour).Format(time.RFC3339Nano)

	opts := testOptions()
	opts.Cooldown = CooldownDays(7)
	h := newHarness(t, opts, true, state)

	h.s.NotifyOperationCompleted(context.Background())
	h.s.NotifyOperationCompleted(context.Background())
	h.waitSweep(t)
}

func TestCooldownNeverDisablesAutomaticSweeps(t *testing.T) {
	opts := testOptions()
	opts.Cooldown = CooldownNever
	h := newHarness(t, opts, true, nil)

	for range 5 {
		h.s.NotifyOperationCompleted(context.Background())
	}
	h.expectNoSweep(t)
	if _, err := h.s.RunNow(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("RunNow err = %v, want ErrDisabled", err)
	}
}

func TestPersistedStateLoaded(t *testing.T) {
	state := newFakeState()
	last := testNow.Add(-3 * time.Hour)
	state.kv[stateCounter] = "5"
	state.kv[stateLastRunAt] = last.Format(time.RFC3339Nano)

	opts := testOptions()
	opts.Cooldown = CooldownDays(1)
	opts.DictationThreshold = 100
	h := newHarness(t, opts, true, state)

	st := h.s.Status()
	if st.DictationCounter != 5 {
		t.Errorf("counter = %d, want 5", st.DictationCounter)
	}
	if !st.LastRunAt.Equal(last) {
		t.Errorf("last run = %v, want %v", st.LastRunAt, last)
	}
}

func TestMalformedStateIgnored(t *testing.T) {
	state := newFakeState()
	state.kv[stateCounter] = "lots"
	state.kv[stateLastRunAt] = "yesterday"
	h := newHarness(t, testOptions(), true, state)

	st := h.s.Status()
	if st.DictationCounter != 0 || !st.LastRunAt.IsZero() {
		t.Errorf("status = %+v, want zero counter and last run", st)
	}
}

func TestRequestsDuringSweepCoalesce(t *testing.T) {
	opts := testOptions()
	opts.DictationThreshold = 1
	h := newHarness(t, opts, true, nil)
	h.deriver.release = make(chan struct{})

	ctx := context.Background()
	h.s.NotifyOperationCompleted(ctx)
	for range 3 {
		h.s.NotifyOperationCompleted(ctx)
	}
	if st := h.s.Status(); !st.Running || st.Queued != 3 {
		t.Errorf("status = %+v, want running with 3 queued", st)
	}
	close(h.deriver.release)

	first := h.waitSweep(t)
	second := h.waitSweep(t)
	if first.ID == second.ID {
		t.Error("follow-up sweep reused the first sweep's ID")
	}
	h.expectNoSweep(t)

	if st := h.s.Status(); st.Running || st.Queued != 0 {
		t.Errorf("status = %+v, want idle", st)
	}
	if got := h.deriver.Calls(); got != 2*len(focus.Areas()) {
		t.Errorf("deriver calls = %d, want %d", got, 2*len(focus.Areas()))
	}
}

func TestNoCredentialNoSweep(t *testing.T) {
	h := newHarness(t, testOptions(), false, nil)

	for range 4 {
		h.s.NotifyOperationCompleted(context.Background())
	}
	h.expectNoSweep(t)
	if got := h.s.Status().DictationCounter; got != 4 {
		t.Errorf("counter = %d, want 4", got)
	}
	if _, err := h.s.RunNow(context.Background()); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("RunNow err = %v, want ErrMissingCredential", err)
	}
}

func TestInsufficientHistory(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	h.logs.oldest = testNow.Add(-24 * time.Hour)

	h.s.NotifyOperationCompleted(context.Background())
	h.s.NotifyOperationCompleted(context.Background())
	h.expectNoSweep(t)

	if _, err := h.s.RunNow(context.Background()); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("RunNow err = %v, want ErrInsufficientHistory", err)
	}

	h.logs.oldest = time.Time{}
	if _, err := h.s.RunNow(context.Background()); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("RunNow with empty log err = %v, want ErrInsufficientHistory", err)
	}
}

func TestRunNowDisabled(t *testing.T) {
	opts := testOptions()
	opts.Enabled = false
	h := newHarness(t, opts, true, nil)

	if _, err := h.s.RunNow(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("RunNow err = %v, want ErrDisabled", err)
	}
}

func TestRunNowIgnoresThresholdAndCooldown(t *testing.T) {
	state := newFakeState()
	state.kv[stateLastRunAt] = testNow.Add(-time.Hour).Format(time.RFC3339Nano)
	opts := testOptions()
	opts.Cooldown = CooldownDays(30)
	opts.DictationThreshold = 1000
	h := newHarness(t, opts, true, state)

	sum, err := h.s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !sum.Manual {
		t.Error("manual sweep not flagged")
	}
	if len(sum.Applied) != len(focus.Areas()) {
		t.Errorf("applied = %v", sum.Applied)
	}
}

func TestRunNowContextCancelled(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	h.deriver.release = make(chan struct{})
	defer close(h.deriver.release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.s.RunNow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunNow err = %v, want deadline exceeded", err)
	}
}

func TestNoMarkersLeavesValuesUnchanged(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	h.deriver.text = map[focus.Area]string{}

	sum, err := h.s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(sum.Applied) != 0 || len(sum.Failed) != 0 {
		t.Errorf("applied=%v failed=%v, want none", sum.Applied, sum.Failed)
	}
	for _, area := range focus.Areas() {
		if got := h.config.value(area); got != focus.Default(area) {
			t.Errorf("%s changed to %q", area, got)
		}
	}
	if h.state.suggestionDeletes != len(focus.Areas()) {
		t.Errorf("suggestion deletes = %d", h.state.suggestionDeletes)
	}
}

func TestIdenticalSuggestionNotApplied(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	h.deriver.text = map[focus.Area]string{focus.AreaDictation: "  " + focus.Default(focus.AreaDictation) + "\n"}

	sum, err := h.s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(sum.Applied) != 0 {
		t.Errorf("applied = %v, want none", sum.Applied)
	}
	if _, ok := h.config.previous[focus.AreaDictation]; ok {
		t.Error("identical suggestion overwrote previous value")
	}
}

func TestPartialFailureIsolated(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	boom := errors.New("upstream 500")
	h.deriver.fail = map[focus.Area]error{focus.AreaDictation: boom}

	sum, err := h.s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(sum.Applied) != len(focus.Areas())-1 {
		t.Errorf("applied = %v", sum.Applied)
	}
	if !errors.Is(sum.Failed[focus.AreaDictation], boom) {
		t.Errorf("failed = %v", sum.Failed)
	}
	if got := h.config.value(focus.AreaDictation); got != focus.Default(focus.AreaDictation) {
		t.Errorf("failed area changed to %q", got)
	}
	if got := h.s.Status().DictationCounter; got != 0 {
		t.Errorf("counter = %d, want 0 after partial failure", got)
	}
}

func TestAllAreasFailing(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	boom := errors.New("network down")
	h.deriver.fail = map[focus.Area]error{}
	for _, a := range focus.Areas() {
		h.deriver.fail[a] = boom
	}

	_, err := h.s.RunNow(context.Background())
	if !errors.Is(err, ErrSweepFailed) || !errors.Is(err, boom) {
		t.Errorf("RunNow err = %v, want ErrSweepFailed wrapping cause", err)
	}
	if h.s.Status().LastRunAt.IsZero() {
		t.Error("last run not recorded after failed sweep")
	}
}

func TestEmptyAreaSkipped(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	delete(h.logs.records, focus.AreaPromptAndRead)

	sum, err := h.s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if _, failed := sum.Failed[focus.AreaPromptAndRead]; failed {
		t.Error("area without interactions reported as failed")
	}
	if len(sum.Applied) != len(focus.Areas())-1 {
		t.Errorf("applied = %v", sum.Applied)
	}
	if got := h.deriver.Calls(); got != len(focus.Areas())-1 {
		t.Errorf("deriver calls = %d", got)
	}
}

func TestRestoreDelegates(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	if _, err := h.s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	ok, err := h.s.Restore(focus.AreaPromptMode)
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	if got := h.config.value(focus.AreaPromptMode); got != focus.Default(focus.AreaPromptMode) {
		t.Errorf("after restore = %q, want default", got)
	}
}

func TestDeleteAllData(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	if _, err := h.s.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	h.s.NotifyOperationCompleted(context.Background())

	if err := h.s.DeleteAllData(context.Background()); err != nil {
		t.Fatalf("DeleteAllData: %v", err)
	}
	if !h.logs.deleted {
		t.Error("interaction log not deleted")
	}
	if h.config.resets != 1 {
		t.Errorf("config resets = %d, want 1", h.config.resets)
	}
	for _, a := range focus.Areas() {
		if got := h.config.value(a); got != focus.Default(a) {
			t.Errorf("%s = %q, want default", a, got)
		}
	}
	if len(h.state.sweeps) != 0 {
		t.Error("sweep history not cleared")
	}
	st := h.s.Status()
	if st.DictationCounter != 0 || !st.LastRunAt.IsZero() {
		t.Errorf("status = %+v, want reset", st)
	}
	if _, err := h.state.GetState(stateLastRunAt); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("last_run_at still persisted: %v", err)
	}
	if _, err := h.s.RunNow(context.Background()); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("RunNow after purge err = %v, want ErrInsufficientHistory", err)
	}
}

func TestDeleteAllDataDuringSweep(t *testing.T) {
	opts := testOptions()
	opts.DictationThreshold = 1
	h := newHarness(t, opts, true, nil)
	release := h.blockDerivations()
	defer release()

	h.s.NotifyOperationCompleted(context.Background())
	h.waitDerivations(t)

	if err := h.s.DeleteAllData(context.Background()); err != nil {
		t.Fatalf("DeleteAllData: %v", err)
	}
	release()

	sum := h.waitSweep(t)
	if !sum.Discarded {
		t.Error("sweep overlapping the wipe was not discarded")
	}
	if len(sum.Applied) != 0 {
		t.Errorf("applied = %v, want none", sum.Applied)
	}
	for _, a := range focus.Areas() {
		if got := h.config.value(a); got != focus.Default(a) {
			t.Errorf("after wipe %s = %q, want default", a, got)
		}
	}
	st := h.s.Status()
	if st.DictationCounter != 0 || !st.LastRunAt.IsZero() {
		t.Errorf("status = %+v, want zero counter and last run", st)
	}
	for _, key := range []string{stateCounter, stateLastRunAt} {
		if _, err := h.state.GetState(key); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("%s persisted after wipe: %v", key, err)
		}
	}
	if n := h.state.sweepCount(); n != 0 {
		t.Errorf("sweep history rows = %d, want 0", n)
	}
}

func TestSweepAfterWipeApplies(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	if err := h.s.DeleteAllData(context.Background()); err != nil {
		t.Fatalf("DeleteAllData: %v", err)
	}
	h.logs.mu.Lock()
	seeded := seededLogs(testNow)
	h.logs.records, h.logs.oldest = seeded.records, seeded.oldest
	h.logs.mu.Unlock()

	sum, err := h.s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if sum.Discarded || len(sum.Applied) != len(focus.Areas()) {
		t.Errorf("summary = %+v, want every area applied", sum)
	}
}

func TestRestoreDuringSweepIsKept(t *testing.T) {
	opts := testOptions()
	opts.DictationThreshold = 1
	h := newHarness(t, opts, true, nil)
	if err := h.config.Apply(focus.AreaUserContext, "Mine."); err != nil {
		t.Fatal(err)
	}
	release := h.blockDerivations()
	defer release()

	h.s.NotifyOperationCompleted(context.Background())
	h.waitDerivations(t)

	ok, err := h.s.Restore(focus.AreaUserContext)
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}
	release()

	sum := h.waitSweep(t)
	if slices.Contains(sum.Applied, focus.AreaUserContext) {
		t.Error("sweep overwrote a value restored while it ran")
	}
	if len(sum.Applied) != len(focus.Areas())-1 {
		t.Errorf("applied = %v, want the other %d areas", sum.Applied, len(focus.Areas())-1)
	}
	if got := h.config.value(focus.AreaUserContext); got != focus.Default(focus.AreaUserContext) {
		t.Errorf("user_context = %q, want the restored default", got)
	}

	// The rolled-back value is still one restore away.
	if ok, err := h.s.Restore(focus.AreaUserContext); err != nil || !ok {
		t.Fatalf("second Restore = %v, %v", ok, err)
	}
	if got := h.config.value(focus.AreaUserContext); got != "Mine." {
		t.Errorf("user_context = %q, want %q", got, "Mine.")
	}
}

func TestStatusNotBlockedByGateChecks(t *testing.T) {
	opts := testOptions()
	opts.DictationThreshold = 1
	h := newHarness(t, opts, true, nil)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.logs.onOldest = func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	notified := make(chan struct{})
	go func() {
		h.s.NotifyOperationCompleted(context.Background())
		close(notified)
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("gate check never reached the log store")
	}

	status := make(chan Status, 1)
	go func() { status <- h.s.Status() }()
	select {
	case st := <-status:
		if st.DictationCounter != 1 {
			t.Errorf("counter = %d, want 1", st.DictationCounter)
		}
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind the log store")
	}

	close(gate)
	<-notified
	h.waitSweep(t)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := newHarness(t, testOptions(), true, nil)
	_, cancel := h.s.Subscribe() // never read
	defer cancel()

	for range subscriberBuffer + 2 {
		if _, err := h.s.RunNow(context.Background()); err != nil {
			t.Fatalf("RunNow: %v", err)
		}
		h.waitSweep(t)
	}
}
