package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/workmate/internal/authn"
	"github.com/antoniostano/workmate/internal/provider"
)

type authStartResponse struct {
	URL    string `json:"url"`
	State  string `json:"state"`
	UserID string `json:"user_id"`
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	UserID      string      `json:"user_id"`
	Platform    provider.ID `json:"platform"`
}

// handleAuthStart begins an authorization. A caller presenting a valid app
// token re-authorizes as the same user; everyone else gets a new user id.
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	id, err := provider.ParseID(chi.URLParam(r, "provider"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	userID := ""
	if raw := authn.BearerToken(r); raw != "" {
		ident, err := s.issuer.Verify(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}
		userID = ident.UserID
	}

	state, pending, err := s.states.Begin(userID, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	consentURL, err := s.credentials.AuthorizationURL(id, state)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, authStartResponse{URL: consentURL, State: state, UserID: pending.UserID})
}

// handleAuthCallback accepts the provider redirect (query) or a client
// forwarding the same values as JSON.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	id, err := provider.ParseID(chi.URLParam(r, "provider"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	var req callbackRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if msg := q.Get("error"); msg != "" {
			respondError(w, http.StatusBadRequest, "authorization_denied", msg)
			return
		}
		req = callbackRequest{Code: q.Get("code"), State: q.Get("state")}
	} else if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.State) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	pending, err := s.states.Consume(req.State, id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if _, err := s.credentials.Exchange(r.Context(), pending.UserID, id, req.Code); err != nil {
		s.logger.Warn("authorization code exchange failed", "user_id", pending.UserID, "provider", id, "error", err)
		s.respondServiceError(w, r, err)
		return
	}

	token, err := s.issuer.Issue(authn.Identity{UserID: pending.UserID, Platform: id})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.logger.Info("user authorized", "user_id", pending.UserID, "provider", id)
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.issuer.TTL().Seconds()),
		UserID:      pending.UserID,
		Platform:    id,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ident := s.identity(r)
	if err := s.credentials.Revoke(r.Context(), ident.UserID, ident.Platform); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
