package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTP forwards prompts to an OpenAI-compatible chat completions endpoint
// (LiteLLM, vLLM, Ollama and similar).
type HTTP struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewHTTP(cfg Config) *HTTP {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &HTTP{
		url:         strings.TrimSpace(cfg.HTTPURL),
		apiKey:      strings.TrimSpace(cfg.HTTPAPIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTP) Name() string { return "http" }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (g *HTTP) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", gatewayError(g.Name(), fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", gatewayError(g.Name(), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(req)
	if err != nil {
		return "", gatewayError(g.Name(), fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", gatewayError(g.Name(), fmt.Errorf("read response: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", gatewayError(g.Name(), fmt.Errorf("status %d: %s", res.StatusCode, truncateBody(body)))
	}

	text := strings.TrimSpace(parseCompletion(body))
	if text == "" {
		return "", gatewayError(g.Name(), errors.New("empty completion"))
	}
	return text, nil
}

// parseCompletion accepts the chat completions shape first and then a few
// flat shapes simple proxies return.
func parseCompletion(body []byte) string {
	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err == nil && len(chat.Choices) > 0 {
		return chat.Choices[0].Message.Content
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return string(body)
	}
	for _, k := range []string{"text", "output", "response", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

func truncateBody(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
