// Package profile holds the live value of every focus area: the system prompts
// for each mode and the user-context document, with one level of rollback.
package profile

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/storage"
)

// ValueStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ValueStore interface {
	ListFocusValues() ([]storage.FocusValue, error)
	ApplyFocusValue(area, value, fallback string) error
	SetFocusValue(area, value string) error
	RestoreFocusValue(area string) (bool, error)
	DeleteFocusValue(area string) error
	DeleteAllFocusValues() error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Entry is the resolved state of one area.
type Entry struct {
	Area        focus.Area `json:"area"`
	Current     string     `json:"current"`
	Previous    string     `json:"previous,omitempty"`
	HasPrevious bool       `json:"has_previous"`
	IsDefault   bool       `json:"is_default"`
	UpdatedAt   time.Time  `json:"updated_at,omitzero"`
}

// Manager provides cached access to focus values stored in SQLite. Writes go
// straight to the store and invalidate the cache.
type Manager struct {
	store ValueStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   map[focus.Area]storage.FocusValue
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ValueStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ValueStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

func (m *Manager) fresh() bool {
	return m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl))
}

// load returns the stored row for area, if any, through the cache.
func (m *Manager) load(area focus.Area) (storage.FocusValue, bool, error) {
	m.mu.RLock()
	if m.fresh() {
		fv, ok := m.cached[area]
		m.mu.RUnlock()
		return fv, ok, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fresh() {
		fv, ok := m.cached[area]
		return fv, ok, nil
	}

	rows, err := m.store.ListFocusValues()
	if err != nil {
		return storage.FocusValue{}, false, fmt.Errorf("loading focus values: %w", err)
	}
	m.cached = make(map[focus.Area]storage.FocusValue, len(rows))
	for _, fv := range rows {
		m.cached[focus.Area(fv.Area)] = fv
	}
	m.cachedAt = m.clock.Now()

	fv, ok := m.cached[area]
	return fv, ok, nil
}

// Entry resolves area to its current and previous values, substituting the
// built-in default when nothing is stored.
func (m *Manager) Entry(area focus.Area) (Entry, error) {
	fv, ok, err := m.load(area)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{Area: area, Current: focus.Default(area), IsDefault: true}, nil
	}
	e := Entry{
		Area:        area,
		Current:     fv.Current,
		HasPrevious: fv.HasPrevious,
		UpdatedAt:   fv.UpdatedAt,
	}
	if fv.HasPrevious {
		e.Previous = fv.Previous
	}
	return e, nil
}

// Entries returns every area in sweep order.
func (m *Manager) Entries() ([]Entry, error) {
	areas := focus.Areas()
	out := make([]Entry, 0, len(areas))
	for _, a := range areas {
		e, err := m.Entry(a)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CurrentValue returns the live value for area. It is never empty unless a
// user explicitly stored an empty value.
func (m *Manager) CurrentValue(area focus.Area) (string, error) {
	e, err := m.Entry(area)
	if err != nil {
		return "", err
	}
	return e.Current, nil
}

func (m *Manager) HasPrevious(area focus.Area) (bool, error) {
	e, err := m.Entry(area)
	if err != nil {
		return false, err
	}
	return e.HasPrevious, nil
}

// Apply moves the current value into previous and makes value current. The
// move and the write happen in one statement.
func (m *Manager) Apply(area focus.Area, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ApplyFocusValue(string(area), value, focus.Default(area)); err != nil {
		return fmt.Errorf("applying %s: %w", area, err)
	}
	m.cached = nil
	return nil
}

// Restore swaps current and previous. Restoring twice re-applies. It reports
// false when there is nothing to restore.
func (m *Manager) Restore(area focus.Area) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, err := m.store.RestoreFocusValue(string(area))
	if err != nil {
		return false, fmt.Errorf("restoring %s: %w", area, err)
	}
	m.cached = nil
	return ok, nil
}

// Set records an explicit user edit. Previous is left as is.
func (m *Manager) Set(area focus.Area, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetFocusValue(string(area), value); err != nil {
		return fmt.Errorf("setting %s: %w", area, err)
	}
	m.cached = nil
	return nil
}

// Reset drops the stored row so the area falls back to its default with no
// previous value.
func (m *Manager) Reset(area focus.Area) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteFocusValue(string(area)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("resetting %s: %w", area, err)
	}
	m.cached = nil
	return nil
}

func (m *Manager) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteAllFocusValues(); err != nil {
		return fmt.Errorf("resetting focus values: %w", err)
	}
	m.cached = nil
	return nil
}

// Invalidate drops the cache. Callers that write to the store behind the
// Manager's back use it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}
