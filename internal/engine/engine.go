// Package engine abstracts the LLM backend used to derive suggestions, so the
// pipeline does not care whether it talks to a cloud API or a local server.
package engine

import "context"

// Engine sends chat messages to a model and returns the assistant's text.
type Engine interface {
	// Name identifies the backend ("openai", "openrouter", "gemini", "ollama").
	Name() string

	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by local engines that can download models.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
