package session

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/workmate/internal/provider"
)

var (
	ErrNotFound = errors.New("context not found")
	// ErrPlatformMismatch means a request named a platform other than the one
	// the user's context was created for.
	ErrPlatformMismatch = errors.New("platform mismatch")
	// ErrReplaced means the context was cleared, or cleared and recreated,
	// between Acquire and AppendExchange.
	ErrReplaced = errors.New("context replaced")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Context is the per-user conversational state.
type Context struct {
	UserID          string         `json:"user_id"`
	Platform        provider.ID    `json:"platform"`
	History         []Turn         `json:"history"`
	CurrentTask     map[string]any `json:"current_task,omitempty"`
	Preferences     map[string]any `json:"preferences"`
	LastInteraction time.Time      `json:"last_interaction"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Clone returns a deep copy; nested maps and slices are not shared.
func (c Context) Clone() Context {
	out := c
	out.History = make([]Turn, len(c.History))
	copy(out.History, c.History)
	out.CurrentTask = cloneMap(c.CurrentTask)
	out.Preferences = cloneMap(c.Preferences)
	if out.Preferences == nil {
		out.Preferences = map[string]any{}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Store persists contexts keyed by user id. Implementations must be safe for
// concurrent use; per-user serialization is the Manager's job.
type Store interface {
	Load(ctx context.Context, userID string) (Context, error)
	Save(ctx context.Context, c Context) error
	Delete(ctx context.Context, userID string) error
	Close() error
}
