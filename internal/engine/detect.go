package engine

import (
	"fmt"
	"time"

	"github.com/kalambet/voxbar/internal/proxy"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// Providers lists the accepted llm.provider values.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderOpenRouter, ProviderGemini, ProviderOllama}
}

// DefaultModel returns the model used when llm.model is unset.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenRouter:
		return "openai/gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOllama:
		return "llama3.2"
	default:
		return "gpt-4o-mini"
	}
}

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	BaseURL       string // overrides the provider's default endpoint
	OllamaBaseURL string
	Key           proxy.KeyFunc
	Timeout       time.Duration
	HTTP2         bool
}

// Detect builds the Engine for the configured provider.
func Detect(cfg DetectConfig) (Engine, error) {
	opts := proxy.Options{
		BaseURL: cfg.BaseURL,
		Key:     cfg.Key,
		Timeout: cfg.Timeout,
		HTTP2:   cfg.HTTP2,
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		if opts.BaseURL == "" {
			opts.BaseURL = proxy.OpenAIBaseURL
		}
		return NewOpenAIEngine(ProviderOpenAI, proxy.NewClient(opts)), nil
	case ProviderOpenRouter:
		if opts.BaseURL == "" {
			opts.BaseURL = proxy.OpenRouterBaseURL
		}
		opts.Referer = "https://github.com/kalambet/voxbar"
		opts.Title = "voxbar"
		return NewOpenAIEngine(ProviderOpenRouter, proxy.NewClient(opts)), nil
	case ProviderGemini:
		return NewGeminiEngine(proxy.NewGeminiClient(opts)), nil
	case ProviderOllama:
		baseURL := cfg.OllamaBaseURL
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		return NewOllamaEngine(baseURL), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q (valid: %v)", cfg.Provider, Providers())
}
