package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/workmate/internal/authn"
	"github.com/antoniostano/workmate/internal/capability"
	"github.com/antoniostano/workmate/internal/config"
	"github.com/antoniostano/workmate/internal/credential"
	"github.com/antoniostano/workmate/internal/mcp"
	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/policy"
	"github.com/antoniostano/workmate/internal/provider"
)

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Orchestrator *mcp.Orchestrator
	Credentials  *credential.Manager
	Capabilities *capability.Service
	Issuer       *authn.Issuer
	States       *authn.StateStore
	Metrics      *observability.Metrics
	// Gatherer serves /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	cfg          config.Config
	orchestrator *mcp.Orchestrator
	credentials  *credential.Manager
	capabilities *capability.Service
	issuer       *authn.Issuer
	states       *authn.StateStore
	metrics      *observability.Metrics
	gatherer     prometheus.Gatherer
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	states := deps.States
	if states == nil {
		states = authn.NewStateStore(authn.DefaultStateTTL)
	}
	return &Server{
		cfg:          cfg,
		orchestrator: deps.Orchestrator,
		credentials:  deps.Credentials,
		capabilities: deps.Capabilities,
		issuer:       deps.Issuer,
		states:       states,
		metrics:      deps.Metrics,
		gatherer:     deps.Gatherer,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(s.allowedOrigins()))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/auth/{provider}", s.handleAuthStart)
	r.Get("/v1/auth/{provider}/callback", s.handleAuthCallback)
	r.Post("/v1/auth/{provider}/callback", s.handleAuthCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.issuer.Middleware)

		r.Post("/v1/auth/logout", s.handleLogout)

		r.Post("/v1/ai/process", s.handleProcess)
		r.Get("/v1/ai/context", s.handleGetContext)
		r.Delete("/v1/ai/context", s.handleClearContext)
		r.Put("/v1/ai/task", s.handleUpdateTask)
		r.Get("/v1/ai/ws", s.handleAssistantWS)

		r.Post("/v1/documents", s.capabilityHandler(capability.DocumentCreate, http.StatusCreated))
		r.Get("/v1/documents/{id}", s.capabilityHandler(capability.DocumentRead, http.StatusOK))
		r.Put("/v1/documents/{id}", s.capabilityHandler(capability.DocumentUpdate, http.StatusOK))
		r.Post("/v1/emails/send", s.capabilityHandler(capability.MailSend, http.StatusOK))
		r.Get("/v1/emails", s.capabilityHandler(capability.MailList, http.StatusOK))
		r.Post("/v1/tasks", s.capabilityHandler(capability.TaskCreate, http.StatusCreated))
		r.Get("/v1/tasks", s.capabilityHandler(capability.TaskList, http.StatusOK))
		r.Post("/v1/calendar/events", s.capabilityHandler(capability.CalendarEventCreate, http.StatusCreated))
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if s.cfg.AllowAnyOrigin {
		return []string{"*"}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.orchestrator == nil || s.credentials == nil || s.issuer == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ready",
		"capabilities_enabled": s.capabilities != nil,
		"providers":            s.credentials.Providers(),
		"model_provider":       s.cfg.ModelProvider,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gatherer != nil {
		observability.MetricsHandlerFor(s.gatherer).ServeHTTP(w, r)
		return
	}
	observability.MetricsHandler().ServeHTTP(w, r)
}

func (s *Server) identity(r *http.Request) authn.Identity {
	id, _ := authn.IdentityFromContext(r.Context())
	return id
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	respondError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var statusErr *capability.StatusError
	switch {
	case errors.Is(err, credential.ErrNoCredential):
		return http.StatusUnauthorized, "no_credential"
	case errors.Is(err, provider.ErrNoRefreshToken):
		return http.StatusUnauthorized, "refresh_unavailable"
	case errors.Is(err, credential.ErrRefreshFailed) && errors.Is(err, provider.ErrProviderRejected),
		errors.Is(err, capability.ErrUnauthorized):
		return http.StatusUnauthorized, "reauthorization_required"
	case errors.Is(err, credential.ErrExchangeFailed):
		return http.StatusBadRequest, "exchange_failed"
	case errors.Is(err, authn.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, authn.ErrTooManyPending):
		return http.StatusTooManyRequests, "too_many_pending"
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown_provider"
	case errors.Is(err, capability.ErrInvalidOperation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, policy.ErrScopeDenied):
		return http.StatusForbidden, "scope_denied"
	case errors.Is(err, capability.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, capability.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, credential.ErrRefreshFailed):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
