// Package catalog resolves requested model names to batch-capable model cards.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

var ErrServiceUnavailable = errors.New("model catalog not initialised")

const chatModelType = "chat"

// Service holds the batch-capable model cards in memory. Cards are loaded by
// New and reloaded only through Refresh.
type Service struct {
	store   store.ModelCards
	aliases map[string]string
	logger  *slog.Logger

	mu    sync.RWMutex
	cards map[string]models.ModelCard
}

// New builds the catalog and performs the initial load.
func New(ctx context.Context, cards store.ModelCards, aliases []config.ModelAliasEntry, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:   cards,
		aliases: make(map[string]string, len(aliases)),
		logger:  logger,
		cards:   map[string]models.ModelCard{},
	}
	for _, a := range aliases {
		s.aliases[catalogKey(a.Alias)] = catalogKey(a.Target)
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh reloads the chat models flagged for batch use.
func (s *Service) Refresh(ctx context.Context) error {
	if s == nil || s.store == nil {
		return ErrServiceUnavailable
	}
	all, err := s.store.ListModelCards(ctx)
	if err != nil {
		return fmt.Errorf("load model cards: %w", err)
	}
	next := make(map[string]models.ModelCard, len(all))
	for _, card := range all {
		if !card.BatchUse {
			continue
		}
		if card.ModelType != "" && card.ModelType != chatModelType {
			continue
		}
		next[catalogKey(card.APIModel)] = card
	}
	s.mu.Lock()
	s.cards = next
	s.mu.Unlock()
	s.logger.Debug("model catalog refreshed", slog.Int("batch_models", len(next)))
	return nil
}

// Resolve maps a model name or alias onto a loaded card. Names and aliases
// match regardless of case.
func (s *Service) Resolve(model string) (models.ModelCard, bool) {
	model = catalogKey(model)
	if model == "" {
		return models.ModelCard{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if card, ok := s.cards[model]; ok {
		return card, true
	}
	if target, ok := s.aliases[model]; ok {
		if card, ok := s.cards[target]; ok {
			return card, true
		}
	}
	return models.ModelCard{}, false
}

// Models lists the canonical ids currently available for batching.
func (s *Service) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cards))
	for _, card := range s.cards {
		out = append(out, card.APIModel)
	}
	return out
}

func catalogKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Seed upserts the configured model cards into the store.
func Seed(ctx context.Context, cards store.ModelCards, entries []config.ModelCardEntry) ([]models.ModelCard, error) {
	seeded := make([]models.ModelCard, 0, len(entries))
	for _, entry := range entries {
		card, err := CardFromConfig(entry)
		if err != nil {
			return seeded, err
		}
		if err := cards.UpsertModelCard(ctx, card); err != nil {
			return seeded, fmt.Errorf("seed %s: %w", card.APIModel, err)
		}
		seeded = append(seeded, card)
	}
	return seeded, nil
}

// CardFromConfig converts a configured entry into a model card.
func CardFromConfig(entry config.ModelCardEntry) (models.ModelCard, error) {
	provider := NormalizeProvider(entry.Provider)
	if provider == "" {
		return models.ModelCard{}, fmt.Errorf("model %q: unsupported provider %q", entry.APIModel, entry.Provider)
	}
	modelType := strings.TrimSpace(entry.ModelType)
	if modelType == "" {
		modelType = chatModelType
	}
	return models.ModelCard{
		APIModel:       entry.APIModel,
		Name:           entry.Name,
		Provider:       provider,
		ModelType:      modelType,
		InModalities:   append([]string(nil), entry.InModalities...),
		BatchUse:       entry.IsBatchEnabled(),
		ContextType:    models.ContextType(entry.ContextType),
		MaxOutTokens:   entry.MaxOutTokens,
		InputCostPerM:  decimal.NewFromFloat(entry.InputCostPerM),
		OutputCostPerM: decimal.NewFromFloat(entry.OutputCostPerM),
	}, nil
}
