package engine

import (
	"context"
	"time"

	"github.com/kalambet/voxbar/internal/proxy"
)

const pingTimeout = 5 * time.Second

func toProxy(messages []Message) []proxy.Message {
	out := make([]proxy.Message, len(messages))
	for i, m := range messages {
		out[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// OpenAIEngine talks to an OpenAI-compatible endpoint (OpenAI or OpenRouter).
type OpenAIEngine struct {
	name   string
	client *proxy.Client
}

func NewOpenAIEngine(name string, client *proxy.Client) *OpenAIEngine {
	return &OpenAIEngine{name: name, client: client}
}

func (e *OpenAIEngine) Name() string { return e.name }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	return e.client.Complete(ctx, model, toProxy(messages))
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// GeminiEngine talks to the Gemini generateContent API.
type GeminiEngine struct {
	client *proxy.GeminiClient
}

func NewGeminiEngine(client *proxy.GeminiClient) *GeminiEngine {
	return &GeminiEngine{client: client}
}

func (e *GeminiEngine) Name() string { return ProviderGemini }

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	return e.client.Complete(ctx, model, toProxy(messages))
}

func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return e.client.Ping(ctx) == nil
}
