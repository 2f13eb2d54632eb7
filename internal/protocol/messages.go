package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeProcessRequest    MessageType = "process_request"
	TypeUpdateTask        MessageType = "update_task"
	TypeClearContext      MessageType = "clear_context"
	TypeAssistantResponse MessageType = "assistant_response"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ProcessRequest asks the assistant to answer Text. Context carries a
// preference delta merged into the user's stored preferences.
type ProcessRequest struct {
	Type      MessageType    `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Text      string         `json:"text"`
	Context   map[string]any `json:"context,omitempty"`
}

type UpdateTask struct {
	Type MessageType    `json:"type"`
	Task map[string]any `json:"task"`
}

type ClearContext struct {
	Type MessageType `json:"type"`
}

type AssistantResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Response  string      `json:"response"`
	Context   any         `json:"context"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
	Context   any         `json:"context,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeProcessRequest:
		var msg ProcessRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid process_request: empty text")
		}
		return msg, nil
	case TypeUpdateTask:
		var msg UpdateTask
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Task == nil {
			return nil, errors.New("invalid update_task: missing task")
		}
		return msg, nil
	case TypeClearContext:
		return ClearContext{Type: TypeClearContext}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
