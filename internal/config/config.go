package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the workmate service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string

	SecretKey         string
	AccessTokenExpiry time.Duration

	DatabaseURL         string
	SessionHistoryLimit int

	ModelProvider    string
	ModelName        string
	ModelTimeout     time.Duration
	ModelTemperature float64
	ModelMaxTokens   int

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	LLMHTTPURL      string
	LLMHTTPAPIKey   string

	ProviderMode            string
	MSClientID              string
	MSClientSecret          string
	MSTenantID              string
	MSRedirectURI           string
	GoogleClientID          string
	GoogleClientSecret      string
	GoogleRedirectURI       string
	CredentialRefreshLeeway time.Duration

	CapabilityTimeout time.Duration
	GraphBaseURL      string
	GoogleAPIBaseURL  string
	// ScopePolicyFile replaces the built-in rego scope policy when set.
	ScopePolicyFile string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "workmate"),
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		SecretKey:          stringsTrimSpace("APP_SECRET_KEY"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ModelProvider:      envOrDefault("MODEL_PROVIDER", "auto"),
		ModelName:          stringsTrimSpace("MODEL_NAME"),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:      stringsTrimSpace("OPENAI_BASE_URL"),
		AnthropicAPIKey:    stringsTrimSpace("ANTHROPIC_API_KEY"),
		LLMHTTPURL:         stringsTrimSpace("LLM_HTTP_URL"),
		LLMHTTPAPIKey:      stringsTrimSpace("LLM_HTTP_API_KEY"),
		ProviderMode:       envOrDefault("PROVIDER_MODE", "oauth"),
		MSClientID:         stringsTrimSpace("MS_CLIENT_ID"),
		MSClientSecret:     stringsTrimSpace("MS_CLIENT_SECRET"),
		MSTenantID:         envOrDefault("MS_TENANT_ID", "common"),
		MSRedirectURI:      envOrDefault("MS_REDIRECT_URI", "http://localhost:8000/v1/auth/microsoft/callback"),
		GoogleClientID:     stringsTrimSpace("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: stringsTrimSpace("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURI:  envOrDefault("GOOGLE_REDIRECT_URI", "http://localhost:8000/v1/auth/google/callback"),
		GraphBaseURL:       stringsTrimSpace("GRAPH_BASE_URL"),
		GoogleAPIBaseURL:   stringsTrimSpace("GOOGLE_API_BASE_URL"),
		ScopePolicyFile:    stringsTrimSpace("SCOPE_POLICY_FILE"),

		ShutdownTimeout:     15 * time.Second,
		AccessTokenExpiry:   30 * time.Minute,
		SessionHistoryLimit: 10,
		ModelTimeout:        30 * time.Second,
		ModelTemperature:    0.7,
		ModelMaxTokens:      500,
		CapabilityTimeout:   20 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AccessTokenExpiry, err = durationFromEnv("ACCESS_TOKEN_EXPIRE", cfg.AccessTokenExpiry)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("MODEL_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CredentialRefreshLeeway, err = durationFromEnv("CREDENTIAL_REFRESH_LEEWAY", cfg.CredentialRefreshLeeway)
	if err != nil {
		return Config{}, err
	}
	cfg.CapabilityTimeout, err = durationFromEnv("CAPABILITY_TIMEOUT", cfg.CapabilityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionHistoryLimit, err = intFromEnv("SESSION_HISTORY_LIMIT", cfg.SessionHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelMaxTokens, err = intFromEnv("MODEL_MAX_TOKENS", cfg.ModelMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTemperature, err = floatFromEnv("MODEL_TEMPERATURE", cfg.ModelTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints after defaults are applied.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("APP_SECRET_KEY is required")
	}
	if len(c.SecretKey) < 16 {
		return fmt.Errorf("APP_SECRET_KEY must be at least 16 characters")
	}
	if c.SessionHistoryLimit < 2 {
		return fmt.Errorf("SESSION_HISTORY_LIMIT must be at least 2")
	}
	if c.SessionHistoryLimit%2 != 0 {
		return fmt.Errorf("SESSION_HISTORY_LIMIT must be even (user/assistant pairs)")
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive")
	}
	if c.ModelMaxTokens <= 0 {
		return fmt.Errorf("MODEL_MAX_TOKENS must be positive")
	}
	if c.AccessTokenExpiry < time.Minute {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE must be at least 1m")
	}
	if c.CredentialRefreshLeeway < 0 {
		return fmt.Errorf("CREDENTIAL_REFRESH_LEEWAY must be >= 0")
	}
	switch strings.ToLower(c.ProviderMode) {
	case "oauth", "mock":
	default:
		return fmt.Errorf("invalid PROVIDER_MODE: %q (expected oauth|mock)", c.ProviderMode)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
