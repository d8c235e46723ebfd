package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Gemini generateContent endpoint.
type GeminiClient struct {
	key        KeyFunc
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient creates a Gemini client. Referer and Title are ignored.
func NewGeminiClient(opts Options) *GeminiClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	key := opts.Key
	if key == nil {
		key = StaticKey("")
	}
	return &GeminiClient{
		key:        key,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(timeout, opts.HTTP2),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// toGemini maps chat messages onto Gemini's shape: system messages are joined
// into the system instruction and "assistant" becomes "model".
func toGemini(messages []Message) geminiRequest {
	var req geminiRequest
	var system []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}
	return req
}

// Complete sends messages to model and returns the concatenated text of the
// first candidate.
func (g *GeminiClient) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(toGemini(messages))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var text string
	err = withRetry(ctx, func() error {
		var err error
		text, err = g.doGenerate(ctx, model, body)
		return err
	})
	return text, err
}

func (g *GeminiClient) doGenerate(ctx context.Context, model string, body []byte) (string, error) {
	key, err := g.key()
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}
	if key == "" {
		return "", ErrNoAPIKey
	}

	endpoint := g.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", gr.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("response contained no candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// Ping reports whether the API accepts the configured key.
func (g *GeminiClient) Ping(ctx context.Context) error {
	key, err := g.key()
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	if key == "" {
		return ErrNoAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/models?pageSize=1", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-goog-api-key", key)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
