package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/workmate/internal/authn"
	"github.com/antoniostano/workmate/internal/mcp"
	"github.com/antoniostano/workmate/internal/protocol"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleAssistantWS serves the assistant over a websocket. Client frames are
// handled one at a time in arrival order.
func (s *Server) handleAssistantWS(w http.ResponseWriter, r *http.Request) {
	ident := s.identity(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	workerDone := make(chan struct{})

	go func() {
		defer close(workerDone)
		for msg := range inbound {
			reply := s.handleClientMessage(ctx, ident, msg)
			if reply == nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case outbound <- reply:
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.observeWS("outbound", t)
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Outbound saturated; the client is not reading.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.observeWS("inbound", t)
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-workerDone
	<-writerDone
}

func (s *Server) handleClientMessage(ctx context.Context, ident authn.Identity, msg any) any {
	switch m := msg.(type) {
	case protocol.ProcessRequest:
		res, err := s.orchestrator.ProcessRequest(ctx, mcp.Request{
			UserID:      ident.UserID,
			Text:        m.Text,
			Platform:    ident.Platform,
			Preferences: m.Context,
		})
		if err != nil {
			s.logger.Error("websocket process_request failed", "user_id", ident.UserID, "error", err)
			return protocol.ErrorEvent{
				Type: protocol.TypeErrorEvent, RequestID: m.RequestID,
				Code: "internal_error", Source: "context", Retryable: true, Detail: err.Error(),
			}
		}
		if !res.OK() {
			return protocol.ErrorEvent{
				Type: protocol.TypeErrorEvent, RequestID: m.RequestID,
				Code: string(res.Code), Source: "assistant", Retryable: res.Code == mcp.CodeGatewayError,
				Detail: res.Error, Context: res.Context,
			}
		}
		return protocol.AssistantResponse{
			Type: protocol.TypeAssistantResponse, RequestID: m.RequestID,
			Response: res.Response, Context: res.Context,
		}
	case protocol.UpdateTask:
		if err := s.orchestrator.UpdateTask(ctx, ident.UserID, m.Task); err != nil {
			return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "internal_error", Source: "context", Detail: err.Error()}
		}
		return protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "task_updated"}
	case protocol.ClearContext:
		if err := s.orchestrator.ClearContext(ctx, ident.UserID); err != nil {
			return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "internal_error", Source: "context", Detail: err.Error()}
		}
		return protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "context_cleared"}
	default:
		return nil
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ProcessRequest:
		return m.Type, true
	case protocol.UpdateTask:
		return m.Type, true
	case protocol.ClearContext:
		return m.Type, true
	case protocol.AssistantResponse:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
