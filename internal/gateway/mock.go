package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Mock provides deterministic local replies when no model is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (g *Mock) Name() string { return "mock" }

func (g *Mock) Complete(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", gatewayError(g.Name(), ctx.Err())
	default:
	}
	return buildMockReply(messages), nil
}

func buildMockReply(messages []Message) string {
	var last, remembered string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		if last == "" {
			last = strings.TrimSpace(messages[i].Content)
			continue
		}
		remembered = strings.TrimSpace(messages[i].Content)
		break
	}
	if last == "" {
		last = "I am listening."
	}
	if remembered == "" {
		return fmt.Sprintf("I heard you: %s", last)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", last, remembered)
}
