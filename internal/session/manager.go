// Package session owns per-user conversation contexts: bounded history,
// preferences and the current task. All mutation goes through Manager, which
// serializes read-modify-write per user and hands out deep copies only.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/provider"
)

const DefaultHistoryLimit = 10

type Manager struct {
	store        Store
	locks        *keyLock
	historyLimit int
	now          func() time.Time
	metrics      *observability.Metrics
	logger       *slog.Logger
}

type Option func(*Manager)

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store Store, historyLimit int, opts ...Option) *Manager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	m := &Manager{
		store:        store,
		locks:        newKeyLock(),
		historyLimit: historyLimit,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) HistoryLimit() int { return m.historyLimit }

// Acquire fetches the user's context, creating it bound to platform when
// absent, and merges prefs into its preferences (top-level keys replace).
// A context bound to another platform is returned untouched together with
// ErrPlatformMismatch.
func (m *Manager) Acquire(ctx context.Context, userID string, platform provider.ID, prefs map[string]any) (Context, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	c, err := m.store.Load(ctx, userID)
	created := false
	switch {
	case errors.Is(err, ErrNotFound):
		now := m.now().UTC().Truncate(time.Microsecond)
		c = Context{
			UserID:          userID,
			Platform:        platform,
			History:         []Turn{},
			Preferences:     map[string]any{},
			LastInteraction: now,
			CreatedAt:       now,
		}
		created = true
	case err != nil:
		return Context{}, fmt.Errorf("load context: %w", err)
	}

	if c.Platform != platform {
		return c.Clone(), fmt.Errorf("%w: context is bound to %s, request names %s", ErrPlatformMismatch, c.Platform, platform)
	}

	if c.Preferences == nil {
		c.Preferences = map[string]any{}
	}
	for k, v := range prefs {
		c.Preferences[k] = cloneValue(v)
	}

	if created || len(prefs) > 0 {
		if err := m.store.Save(ctx, c); err != nil {
			return Context{}, fmt.Errorf("save context: %w", err)
		}
	}
	if created {
		m.logger.Debug("context created", "user_id", userID, "platform", platform)
		if m.metrics != nil {
			m.metrics.ActiveContexts.Inc()
		}
	}
	return c.Clone(), nil
}

// AppendExchange records a completed user/assistant exchange on the context
// that base was taken from. When that context has since been cleared or
// replaced the exchange is dropped and ErrReplaced is returned.
func (m *Manager) AppendExchange(ctx context.Context, base Context, userText, assistantText string) (Context, error) {
	unlock := m.locks.Lock(base.UserID)
	defer unlock()

	c, err := m.store.Load(ctx, base.UserID)
	if errors.Is(err, ErrNotFound) {
		return Context{}, ErrReplaced
	}
	if err != nil {
		return Context{}, fmt.Errorf("load context: %w", err)
	}
	if c.Platform != base.Platform || !c.CreatedAt.Equal(base.CreatedAt) {
		return c.Clone(), ErrReplaced
	}

	c.History = append(c.History,
		Turn{Role: RoleUser, Content: userText},
		Turn{Role: RoleAssistant, Content: assistantText},
	)
	c.History = truncate(c.History, m.historyLimit)
	c.LastInteraction = m.now().UTC()

	if err := m.store.Save(ctx, c); err != nil {
		return Context{}, fmt.Errorf("save context: %w", err)
	}
	return c.Clone(), nil
}

// ReplaceTask swaps the current task wholesale. It reports false, without
// error, when the user has no context.
func (m *Manager) ReplaceTask(ctx context.Context, userID string, task map[string]any) (bool, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	c, err := m.store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load context: %w", err)
	}
	c.CurrentTask = cloneMap(task)
	if err := m.store.Save(ctx, c); err != nil {
		return false, fmt.Errorf("save context: %w", err)
	}
	return true, nil
}

func (m *Manager) Get(ctx context.Context, userID string) (Context, error) {
	c, err := m.store.Load(ctx, userID)
	if err != nil {
		return Context{}, err
	}
	return c.Clone(), nil
}

// Clear removes the user's context. Clearing an absent context is a no-op.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	_, err := m.store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}
	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ActiveContexts.Dec()
	}
	m.logger.Debug("context cleared", "user_id", userID)
	return nil
}

// truncate keeps the newest limit turns in order.
func truncate(history []Turn, limit int) []Turn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return append([]Turn(nil), history[len(history)-limit:]...)
}
