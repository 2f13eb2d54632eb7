package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/antoniostano/workmate/internal/authn"
	"github.com/antoniostano/workmate/internal/capability"
	"github.com/antoniostano/workmate/internal/config"
	"github.com/antoniostano/workmate/internal/credential"
	"github.com/antoniostano/workmate/internal/gateway"
	"github.com/antoniostano/workmate/internal/httpapi"
	"github.com/antoniostano/workmate/internal/mcp"
	"github.com/antoniostano/workmate/internal/observability"
	"github.com/antoniostano/workmate/internal/policy"
	"github.com/antoniostano/workmate/internal/session"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Credentials  *credential.Manager
	Orchestrator *mcp.Orchestrator
	Capabilities *capability.Service
	Metrics      *observability.Metrics
	Gateway      string
	Providers    string

	// Cleanup releases the stores on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sessionStore, err := session.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	credentialStore, err := credential.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = sessionStore.Close()
		return nil, fmt.Errorf("credential store init failed: %w", err)
	}
	cleanup := func() error {
		return errors.Join(sessionStore.Close(), credentialStore.Close())
	}

	adapters, err := resolveAdapters(cfg)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	credentials := credential.NewManager(credentialStore, adapters.registry,
		credential.WithRefreshLeeway(cfg.CredentialRefreshLeeway),
		credential.WithMetrics(metrics),
		credential.WithLogger(logger.With("component", "credential")),
	)

	gw, err := gateway.New(gateway.Config{
		Provider:        cfg.ModelProvider,
		Model:           cfg.ModelName,
		Temperature:     cfg.ModelTemperature,
		MaxTokens:       cfg.ModelMaxTokens,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		HTTPURL:         cfg.LLMHTTPURL,
		HTTPAPIKey:      cfg.LLMHTTPAPIKey,
	})
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("model gateway init failed: %w", err)
	}

	sessions := session.NewManager(sessionStore, cfg.SessionHistoryLimit,
		session.WithMetrics(metrics),
		session.WithLogger(logger.With("component", "session")),
	)
	orchestrator := mcp.New(sessions, gw,
		mcp.WithModelTimeout(cfg.ModelTimeout),
		mcp.WithMetrics(metrics),
		mcp.WithLogger(logger.With("component", "orchestrator")),
	)

	scopes, err := newScopeEngine(ctx, cfg.ScopePolicyFile)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	capabilities := capability.NewService(credentials, scopes,
		capability.NewDispatcher(
			capability.NewGraph(cfg.GraphBaseURL, nil),
			capability.NewGoogle(cfg.GoogleAPIBaseURL, nil),
		),
		capability.WithTimeout(cfg.CapabilityTimeout),
		capability.WithMetrics(metrics),
		capability.WithLogger(logger.With("component", "capability")),
	)

	states := authn.NewStateStore(authn.DefaultStateTTL)
	states.StartJanitor(ctx, time.Minute)

	api := httpapi.New(cfg, httpapi.Deps{
		Orchestrator: orchestrator,
		Credentials:  credentials,
		Capabilities: capabilities,
		Issuer:       authn.NewIssuer(cfg.SecretKey, cfg.AccessTokenExpiry),
		States:       states,
		Metrics:      metrics,
		Logger:       logger.With("component", "http"),
	})

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Credentials:  credentials,
		Orchestrator: orchestrator,
		Capabilities: capabilities,
		Metrics:      metrics,
		Gateway:      gw.Name(),
		Providers:    adapters.detail,
		Cleanup:      cleanup,
	}, nil
}

func newScopeEngine(ctx context.Context, path string) (*policy.ScopeEngine, error) {
	module := ""
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read scope policy: %w", err)
		}
		module = string(raw)
	}
	engine, err := policy.NewScopeEngine(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("scope policy init failed: %w", err)
	}
	return engine, nil
}
