// Package derive asks an LLM for an improved value of a focus area and
// records the answer as a pending suggestion.
package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/voxbar/internal/engine"
	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/storage"
)

const DefaultTimeout = 60 * time.Second

var (
	ErrMissingCredential = errors.New("no valid LLM credential configured")
	ErrLLMCallFailed     = errors.New("LLM call failed")
)

// LLMCallError wraps a transport, HTTP or timeout failure for one area.
type LLMCallError struct {
	Area focus.Area
	Err  error
}

func (e *LLMCallError) Error() string {
	return fmt.Sprintf("deriving %s: %v", e.Area, e.Err)
}

func (e *LLMCallError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLLMCallFailed) hold for every LLMCallError.
func (e *LLMCallError) Is(target error) bool { return target == ErrLLMCallFailed }

// Retryable reports that the call may succeed on a later sweep.
func (e *LLMCallError) Retryable() bool { return true }

// Chatter is the subset of engine.Engine the client needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message) (string, error)
}

// Credentials reports whether a usable key is configured.
type Credentials interface {
	HasValidCredential() bool
}

// SuggestionStore persists artifacts. Implemented by storage.Store.
type SuggestionStore interface {
	SaveSuggestion(s storage.Suggestion) error
}

// Client derives suggestions. It is safe for concurrent use.
type Client struct {
	chatter Chatter
	creds   Credentials
	store   SuggestionStore
	model   string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewClient creates a Client with the default timeout.
func NewClient(chatter Chatter, creds Credentials, store SuggestionStore, model string) *Client {
	return &Client{
		chatter: chatter,
		creds:   creds,
		store:   store,
		model:   model,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
}

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *Client) Model() string { return c.model }

// Derive asks the model for a replacement of currentValue based on corpusText
// and stores the result as the area's pending suggestion. An empty Text in
// the returned suggestion means the model proposed nothing.
func (c *Client) Derive(ctx context.Context, area focus.Area, corpusText, currentValue string) (storage.Suggestion, error) {
	return c.derive(ctx, "", area, corpusText, currentValue)
}

// DeriveForSweep is Derive with the artifact tagged by sweepID.
func (c *Client) DeriveForSweep(ctx context.Context, sweepID string, area focus.Area, corpusText, currentValue string) (storage.Suggestion, error) {
	return c.derive(ctx, sweepID, area, corpusText, currentValue)
}

func (c *Client) derive(ctx context.Context, sweepID string, area focus.Area, corpusText, currentValue string) (storage.Suggestion, error) {
	if !c.creds.HasValidCredential() {
		return storage.Suggestion{}, ErrMissingCredential
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	raw, err := c.chatter.Chat(callCtx, c.model, BuildPrompt(area, corpusText, currentValue))
	if err != nil {
		return storage.Suggestion{}, &LLMCallError{Area: area, Err: err}
	}

	sg := storage.Suggestion{
		Area:      string(area),
		Text:      ExtractSuggestion(raw),
		Model:     c.model,
		SweepID:   sweepID,
		CreatedAt: c.now(),
	}
	if sg.Text == "" {
		c.logger.Info("model proposed no change", "area", area, "elapsed", c.now().Sub(start))
	} else {
		c.logger.Debug("suggestion derived", "area", area, "chars", len(sg.Text), "elapsed", c.now().Sub(start))
	}

	if err := c.store.SaveSuggestion(sg); err != nil {
		return sg, fmt.Errorf("saving suggestion for %s: %w", area, err)
	}
	return sg, nil
}
