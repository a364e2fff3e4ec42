package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store/memory"
)

func boolPtr(v bool) *bool { return &v }

func TestResolveUsesCardsAndAliases(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := Seed(ctx, st, []config.ModelCardEntry{
		{APIModel: "gpt-4.1-2025-04-14", Provider: "openai", ContextType: "developer", InputCostPerM: 2, OutputCostPerM: 8},
		{APIModel: "gpt-4o-2024-11-20", Provider: "openai", BatchUse: boolPtr(false)},
		{APIModel: "text-embedding-3-small", Provider: "openai", ModelType: "embedding"},
		{APIModel: "claude-sonnet-4-20250514", Provider: "Anthropic"},
	})
	require.NoError(t, err)

	svc, err := New(ctx, st, config.DefaultModelAliases(), nil)
	require.NoError(t, err)

	card, ok := svc.Resolve("gpt-4.1")
	require.True(t, ok)
	require.Equal(t, "gpt-4.1-2025-04-14", card.APIModel)
	require.Equal(t, models.ProviderOpenAI, card.Provider)
	require.Equal(t, models.ContextDeveloper, card.ContextType)
	require.Equal(t, "2", card.InputCostPerM.String())

	_, ok = svc.Resolve("gpt-4o")
	require.False(t, ok, "alias target is not batch enabled")
	_, ok = svc.Resolve("text-embedding-3-small")
	require.False(t, ok)
	_, ok = svc.Resolve("mystery-model")
	require.False(t, ok)

	card, ok = svc.Resolve("claude-sonnet-4-20250514")
	require.True(t, ok)
	require.Equal(t, models.ProviderAnthropic, card.Provider)
	require.Len(t, svc.Models(), 2)
}

func TestResolveIgnoresCase(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	_, err := Seed(ctx, st, []config.ModelCardEntry{{APIModel: "gpt-4.1-2025-04-14", Provider: "openai"}})
	require.NoError(t, err)

	svc, err := New(ctx, st, []config.ModelAliasEntry{{Alias: "Fast-GPT", Target: "GPT-4.1-2025-04-14"}}, nil)
	require.NoError(t, err)

	for _, name := range []string{"GPT-4.1-2025-04-14", " gpt-4.1-2025-04-14 ", "fast-gpt", "FAST-GPT"} {
		card, ok := svc.Resolve(name)
		require.True(t, ok, name)
		require.Equal(t, "gpt-4.1-2025-04-14", card.APIModel)
	}
	require.Equal(t, []string{"gpt-4.1-2025-04-14"}, svc.Models())
}

func TestRefreshPicksUpNewCards(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc, err := New(ctx, st, nil, nil)
	require.NoError(t, err)
	_, ok := svc.Resolve("gpt-4.1-mini-2025-04-14")
	require.False(t, ok)

	_, err = Seed(ctx, st, []config.ModelCardEntry{{APIModel: "gpt-4.1-mini-2025-04-14", Provider: "openai"}})
	require.NoError(t, err)
	require.NoError(t, svc.Refresh(ctx))

	_, ok = svc.Resolve("gpt-4.1-mini-2025-04-14")
	require.True(t, ok)
}

func TestCardFromConfigRejectsUnknownProvider(t *testing.T) {
	_, err := CardFromConfig(config.ModelCardEntry{APIModel: "x", Provider: "mistral"})
	require.Error(t, err)
}

func TestNormalizeProvider(t *testing.T) {
	require.Equal(t, models.ProviderOpenAI, NormalizeProvider(" OpenAI "))
	require.Equal(t, models.ProviderAnthropic, NormalizeProvider("anthropic"))
	require.Equal(t, "", NormalizeProvider("vertex"))
}
