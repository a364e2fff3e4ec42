package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lentmiien/lentmiien-site-sub001/internal/cache"
	"github.com/lentmiien/lentmiien-site-sub001/internal/catalog"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/httpserver/webhook"
	"github.com/lentmiien/lentmiien-site-sub001/internal/observability"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers"
	"github.com/lentmiien/lentmiien-site-sub001/internal/realtime"
	"github.com/lentmiien/lentmiien-site-sub001/internal/scheduler"
	batchsvc "github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
	conversationsvc "github.com/lentmiien/lentmiien-site-sub001/internal/services/conversations"
	imagesvc "github.com/lentmiien/lentmiien-site-sub001/internal/services/images"
	messagesvc "github.com/lentmiien/lentmiien-site-sub001/internal/services/messages"
	"github.com/lentmiien/lentmiien-site-sub001/internal/storage/blob"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store/memory"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store/postgres"
)

// Container aggregates runtime dependencies for handlers, commands and workers.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         store.Store
	Observability *observability.Provider
	Catalog       *catalog.Service
	Providers     *providers.Registry
	Images        *imagesvc.Service
	Messages      *messagesvc.Service
	Conversations *conversationsvc.Service
	Batches       *batchsvc.Service
	Realtime      realtime.Publisher
	Idempotency   *cache.IdempotencyCache
	Webhook       *webhook.Handler
	DailyTrigger  *scheduler.DailyTrigger
	StatusPoller  *scheduler.StatusPoller
}

// NewContainer wires services from configuration. pool may be nil when the
// memory store is configured; redisClient may be nil, in which case realtime
// pushes are discarded and webhook deliveries are not deduplicated.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var st store.Store
	switch {
	case cfg.Database.UsesMemory():
		st = memory.New()
	case pool != nil:
		st = postgres.New(pool)
	default:
		return nil, fmt.Errorf("db pool is required for driver %q", cfg.Database.Driver)
	}

	if _, err := catalog.Seed(ctx, st, cfg.Models); err != nil {
		return nil, fmt.Errorf("seed model cards: %w", err)
	}
	cat, err := catalog.New(ctx, st, cfg.ModelAliases, logger)
	if err != nil {
		return nil, fmt.Errorf("load model catalog: %w", err)
	}

	registry, err := providers.NewFactory(cfg).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	blobStore, err := blob.New(ctx, cfg.Images)
	if err != nil {
		return nil, fmt.Errorf("init image storage: %w", err)
	}
	images := imagesvc.NewService(blobStore, cfg.Images)

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	var (
		publisher realtime.Publisher = realtime.Discard{}
		idem      *cache.IdempotencyCache
		dedupe    webhook.Claimer
	)
	if redisClient != nil {
		publisher = realtime.NewBroadcaster(redisClient, cfg.Realtime.ChannelPrefix)
		idem = cache.NewIdempotencyCache(redisClient, "webhook", cfg.Webhook.DedupeTTL)
		dedupe = idem
	}

	msgs := messagesvc.NewService(st, images, logger)
	background, ok := registry.Background()
	if !ok {
		logger.Info("no provider supports background responses")
	}
	convs := conversationsvc.NewService(conversationsvc.Deps{
		Store:      st,
		Messages:   msgs,
		Images:     images,
		Background: background,
		Logger:     logger,
	})

	batches := batchsvc.NewService(batchsvc.Deps{
		Store:         st,
		Catalog:       cat,
		Providers:     registry,
		Conversations: convs,
		Messages:      msgs,
		Realtime:      publisher,
		Metrics:       obs,
		Config:        cfg.Batches,
		Logger:        logger,
	})

	hook := webhook.NewHandler(webhook.Deps{
		Verifier:       webhook.NewVerifier(cfg.Webhook.OpenAISecret, cfg.Webhook.Tolerance),
		Batches:        batches,
		Responses:      convs,
		Dedupe:         dedupe,
		Realtime:       publisher,
		Metrics:        obs,
		ProcessTimeout: cfg.Webhook.ProcessTimeout,
		Logger:         logger,
	})

	return &Container{
		Config:        cfg,
		Logger:        logger,
		DBPool:        pool,
		Redis:         redisClient,
		Store:         st,
		Observability: obs,
		Catalog:       cat,
		Providers:     registry,
		Images:        images,
		Messages:      msgs,
		Conversations: convs,
		Batches:       batches,
		Realtime:      publisher,
		Idempotency:   idem,
		Webhook:       hook,
		DailyTrigger:  scheduler.NewDailyTrigger(batches, cfg.Scheduler, logger),
		StatusPoller:  scheduler.NewStatusPoller(batches, cfg.Scheduler.PollInterval, logger),
	}, nil
}

// Close waits for in-flight webhook work and releases observability exporters.
// The pool and redis client belong to the caller.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Webhook != nil {
		c.Webhook.Wait()
	}
	var errs []error
	if c.Observability != nil {
		if err := c.Observability.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
		}
	}
	return errors.Join(errs...)
}
