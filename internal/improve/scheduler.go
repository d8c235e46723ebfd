// Package improve runs the smart improvement pipeline: it decides when a
// sweep may start, keeps sweeps single-flight, derives and applies
// suggestions for every focus area, and reports each sweep's outcome.
package improve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/sampler"
	"github.com/kalambet/voxbar/internal/storage"
)

var (
	ErrDisabled            = errors.New("smart improvement is disabled")
	ErrMissingCredential   = errors.New("no valid LLM credential configured")
	ErrInsufficientHistory = errors.New("not enough interaction history yet")
	ErrSweepFailed         = errors.New("improvement failed for every focus area")
)

const (
	stateCounter   = "dictation_counter"
	stateLastRunAt = "last_run_at"

	DefaultWindowDays = 30
)

// LogSource reads the interaction log. Implemented by interactions.Store.
type LogSource interface {
	ReadAreaWindow(area focus.Area, since, until time.Time) []interactions.Record
	Oldest() (time.Time, bool)
	DeleteAll() error
}

// Deriver produces a suggestion per area. Implemented by derive.Client.
type Deriver interface {
	DeriveForSweep(ctx context.Context, sweepID string, area focus.Area, corpusText, currentValue string) (storage.Suggestion, error)
}

// ConfigStore holds live focus values. Implemented by profile.Manager.
type ConfigStore interface {
	CurrentValue(area focus.Area) (string, error)
	Apply(area focus.Area, value string) error
	Restore(area focus.Area) (bool, error)
	ResetAll() error
}

// StateStore persists scheduler state and artifacts. Implemented by storage.Store.
type StateStore interface {
	GetState(key string) (string, error)
	SetState(key, value string) error
	DeleteState(key string) error
	DeleteSuggestion(area string) error
	DeleteAllSuggestions() error
	SaveSweep(sw storage.Sweep) error
	DeleteAllSweeps() error
}

// Credentials reports whether a usable LLM key is configured.
type Credentials interface {
	HasValidCredential() bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options are the user-tunable gates and budgets.
type Options struct {
	Enabled               bool
	Cooldown              Cooldown
	DictationThreshold    int
	MinInteractionAgeDays int
	Budget                sampler.Budget
	WindowDays            int
	Concurrency           int // parallel derivations per sweep
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:               true,
		Cooldown:              CooldownDays(7),
		DictationThreshold:    20,
		MinInteractionAgeDays: 7,
		Budget:                sampler.Budget{MaxEntries: 60, MaxTotalChars: 40000},
		WindowDays:            DefaultWindowDays,
		Concurrency:           len(focus.Areas()),
	}
}

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Logs        LogSource
	Deriver     Deriver
	Config      ConfigStore
	State       StateStore
	Credentials Credentials
	Sampler     *sampler.Sampler
	Clock       Clock
	Logger      *slog.Logger
}

// Status is a point-in-time view for the UI.
type Status struct {
	Running          bool      `json:"running"`
	Queued           int       `json:"queued"`
	DictationCounter int       `json:"dictation_counter"`
	LastRunAt        time.Time `json:"last_run_at,omitzero"`
	Enabled          bool      `json:"enabled"`
	Cooldown         Cooldown  `json:"cooldown"`
	Threshold        int       `json:"threshold"`
}

type runResult struct {
	summary Summary
	err     error
}

// Scheduler owns the improvement state machine. Sweeps execute only on the
// goroutine running Run.
type Scheduler struct {
	logs    LogSource
	deriver Deriver
	config  ConfigStore
	state   StateStore
	creds   Credentials
	sampler *sampler.Sampler
	clock   Clock
	logger  *slog.Logger
	events  *broker

	wake chan struct{}

	// writeMu orders sweep results, Restore and DeleteAllData. Lock order
	// is writeMu, then mu.
	writeMu sync.Mutex

	mu        sync.Mutex
	wipes     uint64 // bumped by DeleteAllData; sweeps started earlier are discarded
	opts      Options
	counter   int
	lastRunAt time.Time
	running   bool
	queued    int
	manual    bool             // the next sweep serves a manual request
	waiters   []chan runResult // served by the next sweep
}

// New creates a Scheduler and loads the persisted counter and last run time.
func New(deps Deps, opts Options) (*Scheduler, error) {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = len(focus.Areas())
	}
	s := &Scheduler{
		logs:    deps.Logs,
		deriver: deps.Deriver,
		config:  deps.Config,
		state:   deps.State,
		creds:   deps.Credentials,
		sampler: deps.Sampler,
		clock:   deps.Clock,
		logger:  deps.Logger,
		events:  newBroker(),
		wake:    make(chan struct{}, 1),
		opts:    opts,
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	smp := sampler.Sampler{}
	if deps.Sampler != nil {
		smp = *deps.Sampler
	}
	smp.Now = s.clock.Now
	s.sampler = &smp

	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) loadState() error {
	v, err := s.state.GetState(stateCounter)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading %s: %w", stateCounter, err)
	default:
		n, err := strconv.Atoi(v)
		if err != nil {
			s.logger.Warn("ignoring malformed scheduler state", "key", stateCounter, "value", v)
		} else {
			s.counter = n
		}
	}

	v, err = s.state.GetState(stateLastRunAt)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading %s: %w", stateLastRunAt, err)
	default:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.logger.Warn("ignoring malformed scheduler state", "key", stateLastRunAt, "value", v)
		} else {
			s.lastRunAt = t
		}
	}
	return nil
}

// persist writes one state key; failures are logged only.
func (s *Scheduler) persist(key, value string) {
	if err := s.state.SetState(key, value); err != nil {
		s.logger.Warn("persisting scheduler state failed", "key", key, "error", err)
	}
}

// enabled reports whether the pipeline is switched on. Caller holds s.mu.
func (s *Scheduler) enabled() bool {
	return s.opts.Enabled && !s.opts.Cooldown.IsNever()
}

// autoDue checks the threshold and cooldown gates. Caller holds s.mu.
func (s *Scheduler) autoDue() bool {
	return s.enabled() &&
		s.counter >= s.opts.DictationThreshold &&
		s.opts.Cooldown.elapsed(s.lastRunAt, s.clock.Now())
}

// readyGates checks the credential and the age of the oldest interaction.
// Both may touch disk, so it runs without s.mu.
func (s *Scheduler) readyGates(minAgeDays int) error {
	if !s.creds.HasValidCredential() {
		return ErrMissingCredential
	}
	oldest, ok := s.logs.Oldest()
	minAge := time.Duration(minAgeDays) * 24 * time.Hour
	if !ok || s.clock.Now().Sub(oldest) < minAge {
		return ErrInsufficientHistory
	}
	return nil
}

// basicGates checks the conditions shared by automatic and manual runs:
// the pipeline is on, a credential exists and the log spans enough time.
func (s *Scheduler) basicGates() error {
	s.mu.Lock()
	on, minAge := s.enabled(), s.opts.MinInteractionAgeDays
	s.mu.Unlock()
	if !on {
		return ErrDisabled
	}
	return s.readyGates(minAge)
}

// request starts a sweep or, if one is in flight, queues a follow-up.
// Caller holds s.mu.
func (s *Scheduler) request(manual bool, waiter chan runResult) {
	if manual {
		s.manual = true
	}
	if waiter != nil {
		s.waiters = append(s.waiters, waiter)
	}
	if s.running {
		s.queued++
		return
	}
	s.running = true
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// NotifyOperationCompleted counts one finished user operation and starts a
// sweep when every automatic gate passes.
func (s *Scheduler) NotifyOperationCompleted(ctx context.Context) {
	s.writeMu.Lock()
	s.mu.Lock()
	s.counter++
	n := s.counter
	due := s.autoDue()
	minAge := s.opts.MinInteractionAgeDays
	s.mu.Unlock()
	s.persist(stateCounter, strconv.Itoa(n))
	s.writeMu.Unlock()

	if !due {
		return
	}
	if err := s.readyGates(minAge); err != nil {
		s.logger.Debug("improvement sweep not started", "counter", n, "reason", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A sweep may have finished or the data been wiped meanwhile.
	if !s.autoDue() {
		return
	}
	s.logger.Debug("improvement sweep triggered", "counter", s.counter, "running", s.running)
	s.request(false, nil)
}

// RunNow requests a sweep that skips the threshold and cooldown gates and
// waits for the sweep that serves it. It returns ErrDisabled,
// ErrMissingCredential or ErrInsufficientHistory without waiting when those
// gates fail.
func (s *Scheduler) RunNow(ctx context.Context) (Summary, error) {
	if err := s.basicGates(); err != nil {
		return Summary{}, err
	}
	w := make(chan runResult, 1)
	s.mu.Lock()
	if !s.enabled() {
		s.mu.Unlock()
		return Summary{}, ErrDisabled
	}
	s.request(true, w)
	s.mu.Unlock()

	select {
	case r := <-w:
		return r.summary, r.err
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// Run is the single worker. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("improvement scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.drain(ctx.Err())
			s.logger.Info("improvement scheduler stopped")
			return
		case <-s.wake:
			s.loop(ctx)
		}
	}
}

// loop runs sweeps until no follow-up is queued.
func (s *Scheduler) loop(ctx context.Context) {
	for {
		s.mu.Lock()
		manual := s.manual
		waiters := s.waiters
		s.manual = false
		s.waiters = nil
		s.mu.Unlock()

		summary := s.runSweep(ctx, manual)
		res := runResult{summary: summary, err: summary.err()}
		for _, w := range waiters {
			w <- res
		}

		s.mu.Lock()
		if s.queued == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.queued = 0
		s.mu.Unlock()

		if err := s.basicGates(); err != nil {
			s.logger.Info("skipping queued improvement sweep", "reason", err)
			s.mu.Lock()
			s.running = false
			s.queued = 0
			waiters := s.waiters
			s.waiters = nil
			s.manual = false
			s.mu.Unlock()
			for _, w := range waiters {
				w <- runResult{err: err}
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// drain fails pending manual requests on shutdown.
func (s *Scheduler) drain(err error) {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.running = false
	s.queued = 0
	s.mu.Unlock()
	for _, w := range waiters {
		w <- runResult{err: err}
	}
}

// Subscribe registers an observer of sweep summaries. Summaries are dropped
// for a subscriber that falls behind. Call the returned func to unsubscribe.
func (s *Scheduler) Subscribe() (<-chan Summary, func()) {
	return s.events.subscribe()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:          s.running,
		Queued:           s.queued,
		DictationCounter: s.counter,
		LastRunAt:        s.lastRunAt,
		Enabled:          s.opts.Enabled,
		Cooldown:         s.opts.Cooldown,
		Threshold:        s.opts.DictationThreshold,
	}
}

// Restore rolls area back to its previous value.
func (s *Scheduler) Restore(area focus.Area) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.config.Restore(area)
}

// DeleteAllData wipes the interaction log, pending suggestions, sweep history
// and scheduler state, and resets every area to its default. A sweep still
// deriving when the wipe lands keeps none of its results.
func (s *Scheduler) DeleteAllData(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.wipes++
	s.counter = 0
	s.lastRunAt = time.Time{}
	s.mu.Unlock()

	var errs []error
	if err := s.logs.DeleteAll(); err != nil {
		errs = append(errs, err)
	}
	if err := s.state.DeleteAllSuggestions(); err != nil {
		errs = append(errs, fmt.Errorf("deleting suggestions: %w", err))
	}
	if err := s.state.DeleteAllSweeps(); err != nil {
		errs = append(errs, fmt.Errorf("deleting sweep history: %w", err))
	}
	if err := s.config.ResetAll(); err != nil {
		errs = append(errs, err)
	}
	for _, key := range []string{stateCounter, stateLastRunAt} {
		if err := s.state.DeleteState(key); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("all user data deleted")
	return nil
}
