// Package gateway abstracts the language model behind a single Complete call.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrGateway wraps every model-side failure: transport, provider status,
// empty completions. Callers treat it as "no answer this turn".
var ErrGateway = errors.New("model gateway error")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Gateway completes an ordered message list into assistant text.
type Gateway interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// Config controls gateway construction.
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	HTTPURL         string
	HTTPAPIKey      string
}

func New(cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAuto(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAI(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for anthropic mode")
		}
		return NewAnthropic(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("LLM_HTTP_URL is required for http mode")
		}
		return NewHTTP(cfg), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// newAuto picks the first configured backend. With both hosted keys present
// Anthropic backs up OpenAI.
func newAuto(cfg Config) Gateway {
	var chain []Gateway
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		chain = append(chain, NewOpenAI(cfg))
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		chain = append(chain, NewAnthropic(cfg))
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		chain = append(chain, NewHTTP(cfg))
	}

	switch len(chain) {
	case 0:
		return NewMock()
	case 1:
		return chain[0]
	default:
		return NewFallback(chain[0], chain[1])
	}
}

func gatewayError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrGateway, name, err)
}
