package mcp

import (
	"encoding/json"
	"strings"

	"github.com/antoniostano/workmate/internal/gateway"
	"github.com/antoniostano/workmate/internal/provider"
	"github.com/antoniostano/workmate/internal/session"
)

var personas = map[provider.ID]string{
	provider.Microsoft: "You are an AI assistant integrated with Microsoft 365.",
	provider.Google:    "You are an AI assistant integrated with Google Workspace.",
}

const genericPersona = "You are an AI assistant."

// SystemPrompt renders the persona for c's platform followed by its
// preferences and current task as JSON.
func SystemPrompt(c session.Context) string {
	persona, ok := personas[c.Platform]
	if !ok {
		persona = genericPersona
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\nYou help users with document processing, email automation, and task management.\n\n")
	b.WriteString("User Preferences:\n")
	b.WriteString(toJSON(c.Preferences, "{}"))
	b.WriteString("\n\nCurrent Task:\n")
	b.WriteString(toJSON(c.CurrentTask, "null"))
	b.WriteString("\n\nPlease provide clear, concise responses and always maintain context of the conversation.")
	return b.String()
}

// BuildMessages returns [system] + history + [user text]. The history is
// the stored, already bounded one; this request's turn is not in it yet.
func BuildMessages(c session.Context, text string) []gateway.Message {
	out := make([]gateway.Message, 0, len(c.History)+2)
	out = append(out, gateway.Message{Role: gateway.RoleSystem, Content: SystemPrompt(c)})
	for _, t := range c.History {
		role := gateway.RoleUser
		if t.Role == session.RoleAssistant {
			role = gateway.RoleAssistant
		}
		out = append(out, gateway.Message{Role: role, Content: t.Content})
	}
	return append(out, gateway.Message{Role: gateway.RoleUser, Content: text})
}

func toJSON(v map[string]any, empty string) string {
	if v == nil {
		return empty
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return empty
	}
	return string(raw)
}
