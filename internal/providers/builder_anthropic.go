package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/lentmiien/lentmiien-site-sub001/internal/adapters/anthropic"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "anthropic",
		Description:  "Anthropic Claude API (chat, message batches)",
		Capabilities: []Capability{CapabilityChat, CapabilityBatch},
		Builder:      buildAnthropic,
	})
}

func buildAnthropic(ctx context.Context, cfg *config.Config) (Provider, error) {
	cfg = EnsureConfig(cfg)
	apiKey := strings.TrimSpace(cfg.Providers.AnthropicKey)
	if apiKey == "" {
		return Provider{}, fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}
	opts := anthropic.Options{
		APIKey:           apiKey,
		BaseURL:          strings.TrimSpace(cfg.Providers.AnthropicBaseURL),
		Version:          strings.TrimSpace(cfg.Providers.AnthropicVersion),
		DefaultMaxTokens: cfg.Batches.DefaultMaxTokens,
	}
	if cfg.Providers.Timeout > 0 {
		opts.HTTPClient = &http.Client{Timeout: cfg.Providers.Timeout}
	}
	adapter, err := anthropic.New(opts)
	if err != nil {
		return Provider{}, err
	}
	return Provider{
		Name:  models.ProviderAnthropic,
		Chat:  adapter,
		Batch: adapter,
	}, nil
}
