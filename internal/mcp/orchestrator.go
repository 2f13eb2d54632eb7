// Package mcp runs the per-request context orchestration: resolve the user's
// context, merge preferences, build the prompt, call the model and record the
// exchange.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antoniostano/workmate/internal/gateway"
	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/policy"
	"github.com/antoniostano/workmate/internal/provider"
	"github.com/antoniostano/workmate/internal/session"
)

const defaultModelTimeout = 30 * time.Second

type Code string

const (
	CodeOK               Code = ""
	CodeGatewayError     Code = "gateway_error"
	CodePlatformMismatch Code = "platform_mismatch"
)

type Request struct {
	UserID      string
	Text        string
	Platform    provider.ID
	Preferences map[string]any
}

// Result always carries a context snapshot. Exactly one of Response and
// Error is set.
type Result struct {
	Response string          `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     Code            `json:"code,omitempty"`
	Context  session.Context `json:"context"`
}

func (r Result) OK() bool { return r.Error == "" }

type Orchestrator struct {
	sessions *session.Manager
	gateway  gateway.Gateway
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

type Option func(*Orchestrator)

func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(sessions *session.Manager, gw gateway.Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		gateway:  gw,
		timeout:  defaultModelTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessRequest runs one request through the orchestration. Expected
// failures (platform mismatch, model failure) come back in Result; the
// error return is reserved for store failures.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req Request) (Result, error) {
	startedAt := time.Now()

	base, err := o.sessions.Acquire(ctx, req.UserID, req.Platform, req.Preferences)
	if errors.Is(err, session.ErrPlatformMismatch) {
		o.observe(req.Platform, CodePlatformMismatch)
		return Result{Error: err.Error(), Code: CodePlatformMismatch, Context: base}, nil
	}
	if err != nil {
		return Result{}, err
	}
	o.metrics.ObserveStage("context_acquire", time.Since(startedAt))

	messages := BuildMessages(base, req.Text)

	modelStartedAt := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	text, err := o.gateway.Complete(callCtx, messages)
	cancel()
	o.metrics.ObserveModelLatency(o.gateway.Name(), time.Since(modelStartedAt))
	if err != nil {
		redacted, _ := policy.RedactPII(req.Text)
		o.logger.Warn("model call failed",
			"user_id", req.UserID,
			"platform", req.Platform,
			"gateway", o.gateway.Name(),
			"text", redacted,
			"error", err,
		)
		o.metrics.ObserveIndicator("model_failed")
		o.observe(req.Platform, CodeGatewayError)
		return Result{
			Error:   fmt.Sprintf("failed to get AI response: %v", err),
			Code:    CodeGatewayError,
			Context: base,
		}, nil
	}

	updated, err := o.sessions.AppendExchange(ctx, base, req.Text, text)
	switch {
	case errors.Is(err, session.ErrReplaced):
		// Cleared while the model was answering; the clear wins.
		o.logger.Info("context replaced during model call, exchange dropped", "user_id", req.UserID)
		o.metrics.ObserveIndicator("exchange_dropped")
		if updated.UserID == "" {
			updated = emptyContext(req.UserID)
		}
	case err != nil:
		return Result{}, err
	}

	o.metrics.ObserveStage("process_total", time.Since(startedAt))
	o.observe(req.Platform, CodeOK)
	return Result{Response: text, Context: updated}, nil
}

// UpdateTask replaces the current task. Users without a context are
// silently ignored: there is nothing to update yet.
func (o *Orchestrator) UpdateTask(ctx context.Context, userID string, task map[string]any) error {
	updated, err := o.sessions.ReplaceTask(ctx, userID, task)
	if err != nil {
		return err
	}
	if !updated {
		o.logger.Debug("update_task ignored, no context", "user_id", userID)
	}
	return nil
}

func (o *Orchestrator) ClearContext(ctx context.Context, userID string) error {
	return o.sessions.Clear(ctx, userID)
}

// Context returns a snapshot of the user's context; found is false when
// none exists.
func (o *Orchestrator) Context(ctx context.Context, userID string) (c session.Context, found bool, err error) {
	c, err = o.sessions.Get(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Context{}, false, nil
	}
	if err != nil {
		return session.Context{}, false, err
	}
	return c, true, nil
}

func (o *Orchestrator) observe(platform provider.ID, code Code) {
	if o.metrics == nil {
		return
	}
	label := string(code)
	if code == CodeOK {
		label = "ok"
	}
	o.metrics.AssistantRequests.WithLabelValues(string(platform), label).Inc()
}

func emptyContext(userID string) session.Context {
	return session.Context{
		UserID:      userID,
		History:     []session.Turn{},
		Preferences: map[string]any{},
	}
}
