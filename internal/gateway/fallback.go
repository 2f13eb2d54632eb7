package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Fallback attempts a primary gateway first and falls back on error.
type Fallback struct {
	primary   Gateway
	secondary Gateway
}

func NewFallback(primary, secondary Gateway) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (g *Fallback) Name() string {
	if g.primary == nil {
		return "fallback"
	}
	return g.primary.Name() + "+fallback"
}

func (g *Fallback) Complete(ctx context.Context, messages []Message) (string, error) {
	if g.primary == nil {
		if g.secondary != nil {
			return g.secondary.Complete(ctx, messages)
		}
		return "", fmt.Errorf("%w: fallback gateway misconfigured", ErrGateway)
	}

	text, err := g.primary.Complete(ctx, messages)
	if err == nil {
		return text, nil
	}
	// The caller's deadline covers both attempts.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return "", err
	}
	if g.secondary == nil {
		return "", err
	}

	text, fallbackErr := g.secondary.Complete(ctx, messages)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary gateway error: %w; fallback gateway error: %v", err, fallbackErr)
	}
	return text, nil
}
