package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/workmate/internal/config"
	"github.com/antoniostano/workmate/internal/provider"
)

const mockTokenLifetime = time.Hour

type adapterSetup struct {
	registry *provider.Registry
	detail   string
}

// resolveAdapters builds the provider registry for PROVIDER_MODE. In oauth
// mode a provider is registered only when its client id is configured.
func resolveAdapters(cfg config.Config) (adapterSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ProviderMode))
	switch mode {
	case "mock":
		return adapterSetup{
			registry: provider.NewRegistry(
				provider.NewMockAdapter(provider.Microsoft, mockTokenLifetime),
				provider.NewMockAdapter(provider.Google, mockTokenLifetime),
			),
			detail: "mock (microsoft, google)",
		}, nil
	case "", "oauth":
		var (
			adapters []provider.Adapter
			names    []string
		)
		if cfg.MSClientID != "" {
			adapters = append(adapters, provider.NewMicrosoft(provider.OAuthConfig{
				ClientID:     cfg.MSClientID,
				ClientSecret: cfg.MSClientSecret,
				RedirectURL:  cfg.MSRedirectURI,
				TenantID:     cfg.MSTenantID,
			}))
			names = append(names, string(provider.Microsoft))
		}
		if cfg.GoogleClientID != "" {
			adapters = append(adapters, provider.NewGoogle(provider.OAuthConfig{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.GoogleRedirectURI,
			}))
			names = append(names, string(provider.Google))
		}
		if len(adapters) == 0 {
			return adapterSetup{}, fmt.Errorf("PROVIDER_MODE=oauth needs MS_CLIENT_ID or GOOGLE_CLIENT_ID")
		}
		return adapterSetup{
			registry: provider.NewRegistry(adapters...),
			detail:   "oauth (" + strings.Join(names, ", ") + ")",
		}, nil
	default:
		return adapterSetup{}, fmt.Errorf("invalid PROVIDER_MODE: %q (expected oauth|mock)", cfg.ProviderMode)
	}
}
