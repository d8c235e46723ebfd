// Package proxy holds the HTTP clients for cloud LLM providers: any
// OpenAI-compatible chat completions endpoint (OpenAI, OpenRouter) and
// Google's Gemini generateContent API.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// ErrNoAPIKey is returned when the key source yields an empty key.
var ErrNoAPIKey = errors.New("no API key configured")

// KeyFunc returns the API key to send. It is called per request so a key
// changed while the daemon runs takes effect without a restart.
type KeyFunc func() (string, error)

// StaticKey returns a KeyFunc for a fixed key.
func StaticKey(key string) KeyFunc {
	return func() (string, error) { return key, nil }
}

// Options configures a cloud client. Zero values select defaults.
type Options struct {
	BaseURL string
	Key     KeyFunc
	Timeout time.Duration
	HTTP2   bool
	Referer string
	Title   string
}

// Client communicates with an OpenAI-compatible chat completions API.
type Client struct {
	key        KeyFunc
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates a client for an OpenAI-compatible endpoint.
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	key := opts.Key
	if key == nil {
		key = StaticKey("")
	}
	return &Client{
		key:        key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout, opts.HTTP2),
		referer:    opts.Referer,
		title:      opts.Title,
	}
}

// NewClientWithBaseURL creates a client with a fixed key pointing at a custom
// base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return NewClient(Options{BaseURL: baseURL, Key: StaticKey(apiKey)})
}

// StatusError is returned for non-200 responses other than 429.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

// withRetry runs fn, retrying with exponential backoff while it reports a
// rate limit.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range maxRetries {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRateLimit(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// checkStatus converts a non-200 response into an error and closes its body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{status: resp.StatusCode}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Chat sends a chat completion request and returns the response body. The
// caller must close it. Rate-limited requests are retried.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var rc io.ReadCloser
	err = withRetry(ctx, func() error {
		var err error
		rc, err = c.doChat(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (c *Client) doChat(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if err := c.setHeaders(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Complete runs a non-streaming completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	rc, err := c.Chat(ctx, ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var resp ChatResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the models the endpoint exposes.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if err := c.setHeaders(req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) error {
	key, err := c.key()
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	if key == "" {
		return ErrNoAPIKey
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	return nil
}
