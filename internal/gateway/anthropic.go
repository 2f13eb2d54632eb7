package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Messages API. System messages become the system
// prompt; the rest are passed through in order.
type Anthropic struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

func NewAnthropic(cfg Config, extra ...option.RequestOption) *Anthropic {
	opts := append([]option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}, extra...)

	model := anthropic.ModelClaude3_5Sonnet20241022
	if m := strings.TrimSpace(cfg.Model); m != "" && !strings.HasPrefix(m, "gpt") {
		model = anthropic.Model(m)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &Anthropic{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (g *Anthropic) Name() string { return "anthropic" }

func (g *Anthropic) Complete(ctx context.Context, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", gatewayError(g.Name(), err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", gatewayError(g.Name(), errors.New("empty completion"))
	}
	return text, nil
}
