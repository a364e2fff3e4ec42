package providers

import (
	"context"
	"fmt"
	"strings"

	native "github.com/lentmiien/lentmiien-site-sub001/internal/adapters/openai"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "openai",
		Description:  "OpenAI native API (chat, batch, background responses)",
		Capabilities: []Capability{CapabilityChat, CapabilityBatch, CapabilityBackground},
		Builder:      buildOpenAI,
	})
}

func buildOpenAI(ctx context.Context, cfg *config.Config) (Provider, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.OpenAIKey)
	if apiKey == "" {
		return Provider{}, fmt.Errorf("openai: %w", ErrNotConfigured)
	}
	adapter, err := native.New(native.Options{
		APIKey:       apiKey,
		BaseURL:      strings.TrimSpace(cfg.Providers.OpenAIBaseURL),
		Organization: strings.TrimSpace(cfg.Providers.OpenAIOrg),
		Timeout:      cfg.Providers.Timeout,
	})
	if err != nil {
		return Provider{}, err
	}
	return Provider{
		Name:       models.ProviderOpenAI,
		Chat:       adapter,
		Batch:      adapter,
		Background: adapter,
	}, nil
}
