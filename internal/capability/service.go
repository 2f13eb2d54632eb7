package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/antoniostano/workmate/internal/credential"
	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/policy"
	"github.com/antoniostano/workmate/internal/provider"
)

// Credentials is the subset of the credential manager the service needs.
type Credentials interface {
	Resolve(ctx context.Context, userID string, id provider.ID) (credential.Credential, error)
	Refresh(ctx context.Context, userID string, id provider.ID) (credential.Credential, error)
}

// ScopeChecker decides whether granted scopes permit an operation.
type ScopeChecker interface {
	Decide(ctx context.Context, provider, operation string, scopes []string) (policy.ScopeDecision, error)
}

type Service struct {
	creds      Credentials
	scopes     ScopeChecker
	dispatcher *Dispatcher
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

type ServiceOption func(*Service)

func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires a dispatcher behind credential resolution. scopes may be
// nil, in which case every operation is permitted.
func NewService(creds Credentials, scopes ScopeChecker, dispatcher *Dispatcher, opts ...ServiceOption) *Service {
	s := &Service{
		creds:      creds,
		scopes:     scopes,
		dispatcher: dispatcher,
		timeout:    20 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs op for userID on platform. A provider 401 forces one credential
// refresh and a single retry.
func (s *Service) Execute(ctx context.Context, userID string, platform provider.ID, op Operation) (Record, error) {
	if err := op.Validate(); err != nil {
		return Record{}, err
	}
	started := time.Now()
	rec, err := s.execute(ctx, userID, platform, op)
	s.metrics.ObserveStage("capability", time.Since(started))
	s.observe(platform, op.Kind, err)
	if err != nil {
		s.logger.Warn("capability call failed",
			"user_id", userID,
			"provider", platform,
			"operation", op.Kind,
			"error", err,
		)
	}
	return rec, err
}

func (s *Service) execute(ctx context.Context, userID string, platform provider.ID, op Operation) (Record, error) {
	cred, err := s.creds.Resolve(ctx, userID, platform)
	if err != nil {
		return Record{}, err
	}
	if s.scopes != nil {
		decision, err := s.scopes.Decide(ctx, string(platform), string(op.Kind), cred.Scopes)
		if err != nil {
			return Record{}, fmt.Errorf("evaluate scope policy: %w", err)
		}
		if err := decision.Err(); err != nil {
			return Record{}, err
		}
	}

	rec, err := s.dispatch(ctx, cred, op)
	if !errors.Is(err, ErrUnauthorized) {
		return rec, err
	}

	s.logger.Info("provider rejected token, refreshing", "user_id", userID, "provider", platform)
	cred, refreshErr := s.creds.Refresh(ctx, userID, platform)
	if refreshErr != nil {
		return Record{}, refreshErr
	}
	return s.dispatch(ctx, cred, op)
}

func (s *Service) dispatch(ctx context.Context, cred credential.Credential, op Operation) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.dispatcher.Dispatch(ctx, cred, op)
}

func (s *Service) observe(platform provider.ID, kind Kind, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, policy.ErrScopeDenied):
		outcome = "denied"
	case errors.Is(err, credential.ErrNoCredential), errors.Is(err, credential.ErrRefreshFailed), errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	s.metrics.CapabilityCalls.WithLabelValues(string(platform), string(kind), outcome).Inc()

	var se *StatusError
	if errors.As(err, &se) {
		s.metrics.ProviderErrors.WithLabelValues(string(platform), strconv.Itoa(se.Status)).Inc()
	}
}
