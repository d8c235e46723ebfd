package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FocusValue is the stored current/previous pair for one focus area.
type FocusValue struct {
	Area        string
	Current     string
	Previous    string
	HasPrevious bool
	UpdatedAt   time.Time
}

// Suggestion is the latest unconsumed LLM-derived candidate for a focus area.
// An empty Text means the model found nothing to improve.
type Suggestion struct {
	Area      string
	Text      string
	Model     string
	SweepID   string
	CreatedAt time.Time
}

type Sweep struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Manual     bool
	Applied    string // JSON array stored as text
	Failed     string // JSON object area -> error message
}
