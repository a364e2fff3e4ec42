package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lentmiien/lentmiien-site-sub001/internal/app"
	"github.com/lentmiien/lentmiien-site-sub001/internal/cli"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/database"
	"github.com/lentmiien/lentmiien-site-sub001/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(load, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "batchctl:", err)
		os.Exit(1)
	}
}

func load(ctx context.Context, opts config.Options) (*cli.Env, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closeLog := config.SetupLogger(cfg.Logging)

	var pool *pgxpool.Pool
	if !cfg.Database.UsesMemory() {
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			_ = closeLog()
			return nil, fmt.Errorf("connect database: %w", err)
		}
	}

	var redisClient *redis.Client
	if client := redisclient.New(cfg.Redis); redisclient.Ping(ctx, client) == nil {
		redisClient = client
	} else {
		logger.Warn("redis unavailable, realtime pushes disabled")
		_ = client.Close()
	}

	container, err := app.NewContainer(ctx, cfg, logger, pool, redisClient)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = closeLog()
		return nil, fmt.Errorf("build container: %w", err)
	}

	return &cli.Env{
		Batches:   container.Batches,
		Catalog:   container.Catalog,
		Providers: container.Providers,
		Close: func() {
			_ = container.Close(context.Background())
			if pool != nil {
				pool.Close()
			}
			if redisClient != nil {
				_ = redisClient.Close()
			}
			_ = closeLog()
		},
	}, nil
}
