package app

import (
	"context"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/realtime"
	"github.com/lentmiien/lentmiien-site-sub001/internal/redisclient"
	batchsvc "github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Redis:    config.RedisConfig{URL: "redis://localhost:6379/0"},
		Providers: config.ProviderConfig{
			AnthropicKey: "sk-ant-test",
		},
		Models: []config.ModelCardEntry{{
			APIModel:       "claude-sonnet-4-20250514",
			Provider:       "Anthropic",
			InputCostPerM:  3,
			OutputCostPerM: 15,
		}},
		Batches: config.BatchesConfig{SummaryModel: "claude-sonnet-4-20250514"},
		Images: config.ImagesConfig{
			Storage: "local",
			Local:   config.ImagesLocalConfig{Directory: filepath.Join(t.TempDir(), "images")},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewContainerWiresMemoryStore(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, testConfig(t), nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ctx) })

	require.IsType(t, &memory.Store{}, c.Store)
	require.Equal(t, realtime.Discard{}, c.Realtime)
	require.Nil(t, c.Idempotency)
	require.NotNil(t, c.Webhook)

	card, ok := c.Catalog.Resolve("claude-sonnet-4-20250514")
	require.True(t, ok)
	require.Equal(t, "Anthropic", card.Provider)

	_, err = c.Providers.Batch("anthropic")
	require.NoError(t, err)

	res, err := c.Batches.AddPromptToBatch(ctx, batchsvc.AddPromptParams{
		UserID:         "alice",
		Prompt:         "hello",
		ConversationID: "new",
		Model:          "claude-sonnet-4-20250514",
	})
	require.NoError(t, err)
	require.Equal(t, batchsvc.AddQueued, res.Status)
}

func TestNewContainerUsesRedisForRealtimeAndDedupe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redisclient.New(config.RedisConfig{URL: "redis://" + mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	c, err := NewContainer(ctx, testConfig(t), nil, nil, client)
	require.NoError(t, err)

	require.IsType(t, &realtime.Broadcaster{}, c.Realtime)
	first, err := c.Idempotency.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, first)
	again, err := c.Idempotency.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.False(t, again)
}

func TestNewContainerRequiresPoolForPostgres(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"
	_, err := NewContainer(context.Background(), cfg, nil, nil, nil)
	require.ErrorContains(t, err, "db pool is required")
}

func TestNewContainerRejectsUnconfiguredBatchProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.AnthropicKey = ""
	_, err := NewContainer(context.Background(), cfg, nil, nil, nil)
	require.Error(t, err)
}
