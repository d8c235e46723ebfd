package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/voxbar/internal/proxy"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
	chats     int
	progress  []PullProgress
}

func (m *mockEngine) Name() string { return "mock" }
func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message) (string, error) {
	m.chats++
	return "pong", nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool             { return m.isRunning }
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		for _, p := range m.progress {
			cb(p)
		}
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// cloudOnly has no ModelManager methods.
type cloudOnly struct{ running bool }

func (c cloudOnly) Name() string                                            { return "cloud" }
func (c cloudOnly) Chat(context.Context, string, []Message) (string, error) { return "", nil }
func (c cloudOnly) IsRunning(context.Context) bool                          { return c.running }

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"llama3.2": true}}
	if err := EnsureReady(context.Background(), m, "llama3.2", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
	if m.chats != 1 {
		t.Errorf("expected one warm-up chat, got %d", m.chats)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), m, "llama3.2", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "llama3.2" {
		t.Errorf("pulled = %v, want [llama3.2]", m.pulled)
	}
}

func TestEnsureReady_ReportsProgress(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}, progress: []PullProgress{
		{Status: "pulling manifest"},
		{Status: "downloading", Total: 200, Completed: 100},
	}}
	var out strings.Builder
	if err := EnsureReady(context.Background(), m, "llama3.2", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	for _, want := range []string{"  pulling manifest\n", "  downloading 50%\n", "model llama3.2: warm\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPullProgressPercent(t *testing.T) {
	tests := []struct {
		p      PullProgress
		want   float64
		wantOK bool
	}{
		{PullProgress{Status: "pulling manifest"}, 0, false},
		{PullProgress{Total: 400, Completed: 100}, 25, true},
		{PullProgress{Total: 400, Completed: 400}, 100, true},
		{PullProgress{Total: 400, Completed: 500}, 100, true},
	}
	for _, tt := range tests {
		got, ok := tt.p.Percent()
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%+v.Percent() = %v, %v; want %v, %v", tt.p, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEnsureReady_NotRunning(t *testing.T) {
	err := EnsureReady(context.Background(), &mockEngine{}, "llama3.2", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("expected not reachable error, got %v", err)
	}
}

func TestEnsureReady_CloudSkipsModels(t *testing.T) {
	if err := EnsureReady(context.Background(), cloudOnly{running: true}, "gpt-4o-mini", io.Discard); err != nil {
		t.Errorf("EnsureReady: %v", err)
	}
}

func TestDetect(t *testing.T) {
	cases := map[string]string{
		"":           ProviderOpenAI,
		"openai":     ProviderOpenAI,
		"openrouter": ProviderOpenRouter,
		"gemini":     ProviderGemini,
		"ollama":     ProviderOllama,
	}
	for provider, want := range cases {
		e, err := Detect(DetectConfig{Provider: provider, Key: proxy.StaticKey("k")})
		if err != nil {
			t.Fatalf("Detect(%q): %v", provider, err)
		}
		if e.Name() != want {
			t.Errorf("Detect(%q).Name() = %q, want %q", provider, e.Name(), want)
		}
	}

	if _, err := Detect(DetectConfig{Provider: "anthropic"}); err == nil {
		t.Error("Detect(anthropic): expected error")
	}
}

func TestDefaultModel(t *testing.T) {
	for _, p := range Providers() {
		if DefaultModel(p) == "" {
			t.Errorf("DefaultModel(%q) is empty", p)
		}
	}
}

func TestOllamaEngine_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["options"]; !ok {
			t.Error("expected generation options in request")
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hello from ollama"}}`)
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	got, err := e.Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello from ollama" {
		t.Errorf("Chat = %q", got)
	}
}

func TestOllamaEngine_IsModelManager(t *testing.T) {
	var e Engine = NewOllamaEngine("http://localhost:11434")
	if _, ok := e.(ModelManager); !ok {
		t.Error("OllamaEngine should implement ModelManager")
	}
}

func TestOpenAIEngine_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"cloud reply"}}]}`)
		case "/models":
			fmt.Fprint(w, `{"data":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := Detect(DetectConfig{Provider: ProviderOpenRouter, BaseURL: srv.URL, Key: proxy.StaticKey("k")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}})
	if err != nil || got != "cloud reply" {
		t.Errorf("Chat = %q, %v", got, err)
	}
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning = false, want true")
	}
}

func TestGeminiEngine_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"gemini reply"}]}}]}`)
	}))
	defer srv.Close()

	e, err := Detect(DetectConfig{Provider: ProviderGemini, BaseURL: srv.URL, Key: proxy.StaticKey("k")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.Chat(context.Background(), "gemini-2.5-flash", []Message{{Role: "user", Content: "hi"}})
	if err != nil || got != "gemini reply" {
		t.Errorf("Chat = %q, %v", got, err)
	}
}
