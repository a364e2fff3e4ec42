package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
)

// Builder constructs a provider from configuration. It returns
// ErrNotConfigured when credentials are missing.
type Builder func(ctx context.Context, cfg *config.Config) (Provider, error)

// Factory builds the provider registry from configuration using registered builders.
type Factory struct {
	cfg      *config.Config
	builders map[string]Builder
}

// NewFactory creates a factory with the default provider registry.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg, builders: defaultBuilders()}
}

// Register allows tests or callers to override provider builders.
func (f *Factory) Register(name string, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[string]Builder)
	}
	f.builders[name] = builder
}

// Build instantiates every configured provider. Model cards that reference an
// unconfigured provider are reported as errors.
func (f *Factory) Build(ctx context.Context) (*Registry, error) {
	names := make([]string, 0, len(f.builders))
	for name := range f.builders {
		names = append(names, name)
	}
	sort.Strings(names)

	var built []Provider
	for _, name := range names {
		p, err := f.builders[name](ctx, f.cfg)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		built = append(built, p)
	}
	registry := NewRegistry(built...)

	for _, card := range f.cfg.Models {
		if !card.IsBatchEnabled() {
			continue
		}
		if _, err := registry.Batch(card.Provider); err != nil {
			return nil, fmt.Errorf("model %q: %w", card.APIModel, err)
		}
	}
	return registry, nil
}
