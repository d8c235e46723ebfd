package derive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/voxbar/internal/engine"
	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/storage"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	response string
	err      error
	delay    time.Duration

	mu       sync.Mutex
	messages []engine.Message
	model    string
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message) (string, error) {
	m.mu.Lock()
	m.messages = messages
	m.model = model
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

type staticCreds bool

func (s staticCreds) HasValidCredential() bool { return bool(s) }

type mockStore struct {
	mu    sync.Mutex
	saved map[string]storage.Suggestion
	err   error
}

func newMockStore() *mockStore {
	return &mockStore{saved: make(map[string]storage.Suggestion)}
}

func (m *mockStore) SaveSuggestion(s storage.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved[s.Area] = s
	return nil
}

func TestDerive_MissingCredential(t *testing.T) {
	chat := &mockChatter{response: "unused"}
	store := newMockStore()
	c := NewClient(chat, staticCreds(false), store, "gpt-4o-mini")

	_, err := c.Derive(context.Background(), focus.AreaDictation, "corpus", "current")
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if chat.messages != nil {
		t.Error("LLM should not be called without a credential")
	}
	if len(store.saved) != 0 {
		t.Error("nothing should be persisted")
	}
}

func TestDerive_ExtractsAndPersists(t *testing.T) {
	chat := &mockChatter{response: "Here you go:\n===SUGGESTED_START===\n  Better prompt.  \n===END===\nThanks"}
	store := newMockStore()
	c := NewClient(chat, staticCreds(true), store, "gpt-4o-mini")

	sg, err := c.DeriveForSweep(context.Background(), "sweep-1", focus.AreaPromptMode, "corpus text", "old prompt")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if sg.Text != "Better prompt." {
		t.Errorf("Text = %q", sg.Text)
	}
	if sg.Area != string(focus.AreaPromptMode) || sg.SweepID != "sweep-1" || sg.Model != "gpt-4o-mini" {
		t.Errorf("suggestion = %+v", sg)
	}
	if got := store.saved["prompt_mode"]; got.Text != "Better prompt." {
		t.Errorf("persisted = %+v", got)
	}
	if chat.model != "gpt-4o-mini" {
		t.Errorf("model = %q", chat.model)
	}
	if len(chat.messages) != 2 || !strings.Contains(chat.messages[1].Content, "old prompt") || !strings.Contains(chat.messages[1].Content, "corpus text") {
		t.Errorf("user message missing current value or corpus: %+v", chat.messages)
	}
}

// TestDerive_NoMarkers: a response without markers is "no suggestion", not an error.
func TestDerive_NoMarkers(t *testing.T) {
	chat := &mockChatter{response: "The current prompt is fine."}
	store := newMockStore()
	c := NewClient(chat, staticCreds(true), store, "m")

	sg, err := c.Derive(context.Background(), focus.AreaDictation, "corpus", "current")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if sg.Text != "" {
		t.Errorf("Text = %q, want empty", sg.Text)
	}
	if _, ok := store.saved["dictation"]; !ok {
		t.Error("empty suggestion should still be persisted as the latest artifact")
	}
}

func TestDerive_LLMFailureIsRetryable(t *testing.T) {
	chat := &mockChatter{err: errors.New("connection reset")}
	c := NewClient(chat, staticCreds(true), newMockStore(), "m")

	_, err := c.Derive(context.Background(), focus.AreaUserContext, "corpus", "current")
	if !errors.Is(err, ErrLLMCallFailed) {
		t.Fatalf("err = %v, want ErrLLMCallFailed", err)
	}
	var callErr *LLMCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("err = %T, want *LLMCallError", err)
	}
	if !callErr.Retryable() || callErr.Area != focus.AreaUserContext {
		t.Errorf("LLMCallError = %+v", callErr)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error text lost the cause: %v", err)
	}
}

func TestDerive_Timeout(t *testing.T) {
	chat := &mockChatter{response: "===SUGGESTED_START===x===END===", delay: 5 * time.Second}
	c := NewClient(chat, staticCreds(true), newMockStore(), "m").WithTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := c.Derive(context.Background(), focus.AreaDictation, "corpus", "current")
	if !errors.Is(err, ErrLLMCallFailed) {
		t.Fatalf("err = %v, want ErrLLMCallFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want it to wrap DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not honored")
	}
}

func TestDerive_StoreError(t *testing.T) {
	chat := &mockChatter{response: "===SUGGESTED_START===x===END==="}
	store := newMockStore()
	store.err = errors.New("database is locked")
	c := NewClient(chat, staticCreds(true), store, "m")

	_, err := c.Derive(context.Background(), focus.AreaDictation, "corpus", "current")
	if err == nil || errors.Is(err, ErrLLMCallFailed) {
		t.Errorf("err = %v, want a storage error", err)
	}
}

func TestWithTimeoutIgnoresNonPositive(t *testing.T) {
	c := NewClient(&mockChatter{}, staticCreds(true), newMockStore(), "m").WithTimeout(0)
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
}
