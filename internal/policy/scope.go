package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

// ErrScopeDenied is returned when a credential's granted scopes don't cover
// the requested operation.
var ErrScopeDenied = errors.New("scope denied")

// ScopeDecision is the outcome of a scope policy evaluation.
type ScopeDecision struct {
	Allow   bool
	Missing []string
	Reason  string
}

// Err returns nil for an allowed decision and an ErrScopeDenied wrap
// otherwise.
func (d ScopeDecision) Err() error {
	if d.Allow {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrScopeDenied, d.Reason)
}

// ScopeEngine evaluates the capability scope policy with OPA.
type ScopeEngine struct {
	query rego.PreparedEvalQuery
}

// NewScopeEngine prepares module, or DefaultScopePolicy when module is empty.
func NewScopeEngine(ctx context.Context, module string) (*ScopeEngine, error) {
	if strings.TrimSpace(module) == "" {
		module = DefaultScopePolicy
	}
	r := rego.New(
		rego.Query("data.workmate.capability.decision"),
		rego.Module("capability_scopes.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare scope policy: %w", err)
	}
	return &ScopeEngine{query: query}, nil
}

// Decide reports whether scopes granted on provider permit operation. An
// empty scope list means the grant is unknown and is allowed through; the
// provider will enforce it.
func (e *ScopeEngine) Decide(ctx context.Context, provider, operation string, scopes []string) (ScopeDecision, error) {
	granted := make([]string, 0, len(scopes))
	granted = append(granted, scopes...)
	input := map[string]any{
		"provider":  provider,
		"operation": operation,
		"scopes":    granted,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return ScopeDecision{}, fmt.Errorf("evaluate scope policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ScopeDecision{Reason: "policy produced no decision"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return ScopeDecision{}, fmt.Errorf("scope policy returned %T, want object", results[0].Expressions[0].Value)
	}

	d := ScopeDecision{}
	d.Allow, _ = obj["allow"].(bool)
	if raw, ok := obj["missing"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				d.Missing = append(d.Missing, s)
			}
		}
		sort.Strings(d.Missing)
	}
	known, _ := obj["known"].(bool)
	switch {
	case d.Allow:
		d.Reason = "allowed"
	case !known:
		d.Reason = fmt.Sprintf("operation %q is not available on %s", operation, provider)
	default:
		d.Reason = "missing scopes: " + strings.Join(d.Missing, ", ")
	}
	return d, nil
}

// DefaultScopePolicy maps every capability operation to the OAuth scopes it
// needs on each provider. Granted scopes match case-insensitively, either
// exactly or as the last path segment of a resource-qualified scope
// (https://graph.microsoft.com/Mail.Send).
const DefaultScopePolicy = `
package workmate.capability

drive := "https://www.googleapis.com/auth/drive.file"
gmail := "https://www.googleapis.com/auth/gmail.modify"
gtasks := "https://www.googleapis.com/auth/tasks"
gcalendar := "https://www.googleapis.com/auth/calendar"

required := {
	"microsoft": {
		"document.create": ["Files.ReadWrite"],
		"document.read": ["Files.ReadWrite"],
		"document.update": ["Files.ReadWrite"],
		"mail.send": ["Mail.Send"],
		"mail.list": ["Mail.Read"],
		"task.create": ["Tasks.ReadWrite"],
		"task.list": ["Tasks.ReadWrite"],
		"calendar.event.create": ["Calendars.ReadWrite"],
	},
	"google": {
		"document.create": [drive],
		"document.read": [drive],
		"document.update": [drive],
		"mail.send": [gmail],
		"mail.list": [gmail],
		"task.create": [gtasks],
		"task.list": [gtasks],
		"calendar.event.create": [gcalendar],
	},
}

needed := required[input.provider][input.operation]

default known := false

known if needed

granted(s) if {
	some g in input.scopes
	lower(g) == lower(s)
}

granted(s) if {
	some g in input.scopes
	endswith(lower(g), concat("", ["/", lower(s)]))
}

missing contains s if {
	some s in needed
	not granted(s)
}

default allow := false

allow if {
	known
	count(input.scopes) == 0
}

allow if {
	known
	count(missing) == 0
}

decision := {
	"allow": allow,
	"known": known,
	"missing": missing,
}
`
