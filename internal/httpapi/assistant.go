package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/antoniostano/workmate/internal/mcp"
)

type processRequest struct {
	Text    string         `json:"text"`
	Context map[string]any `json:"context"`
}

type updateTaskRequest struct {
	Task map[string]any `json:"task"`
}

func resultStatus(res mcp.Result) int {
	switch res.Code {
	case mcp.CodeOK:
		return http.StatusOK
	case mcp.CodePlatformMismatch:
		return http.StatusConflict
	case mcp.CodeGatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	ident := s.identity(r)
	res, err := s.orchestrator.ProcessRequest(r.Context(), mcp.Request{
		UserID:      ident.UserID,
		Text:        req.Text,
		Platform:    ident.Platform,
		Preferences: req.Context,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, resultStatus(res), res)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	c, found, err := s.orchestrator.Context(r.Context(), s.identity(r).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "context_not_found", "no conversation context")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.ClearContext(r.Context(), s.identity(r).UserID); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Task == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "task is required")
		return
	}
	if err := s.orchestrator.UpdateTask(r.Context(), s.identity(r).UserID, req.Task); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
