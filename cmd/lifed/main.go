package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lentmiien/lentmiien-site-sub001/internal/app"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/database"
	"github.com/lentmiien/lentmiien-site-sub001/internal/httpserver"
	"github.com/lentmiien/lentmiien-site-sub001/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	var pool *pgxpool.Pool
	if !cfg.Database.UsesMemory() {
		if err := database.RunMigrations(ctx, cfg.Database, logger); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()
	}

	redisClient := connectRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	container, err := app.NewContainer(ctx, cfg, logger, pool, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("container close", slog.Any("error", err))
		}
	}()

	if cfg.Scheduler.Enabled {
		go container.DailyTrigger.Run(ctx)
		go container.StatusPoller.Run(ctx)
		logger.Info("scheduler started",
			slog.Int("daily_hour", cfg.Scheduler.DailyHour),
			slog.Int("daily_minute", cfg.Scheduler.DailyMinute),
			slog.String("timezone", cfg.Scheduler.Timezone),
			slog.Duration("poll_interval", cfg.Scheduler.PollInterval),
		)
	}

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	logger.Info("listening", slog.String("addr", cfg.Server.ListenAddr))
	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server stopped: %v", err)
	}
}

// connectRedis returns nil when redis does not answer; the daemon then runs
// without realtime pushes and webhook dedupe.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	client := redisclient.New(cfg)
	if err := redisclient.Ping(ctx, client); err != nil {
		logger.Warn("redis unavailable, realtime pushes disabled", slog.Any("error", err))
		_ = client.Close()
		return nil
	}
	return client
}
