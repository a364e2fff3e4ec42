// Package httpserver exposes health, metrics and the provider webhook over
// Fiber.
package httpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/lentmiien/lentmiien-site-sub001/internal/app"
	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/httpserver/httputil"
)

// Server wraps the Fiber app and configuration.
type Server struct {
	app *fiber.App
	cfg config.ServerConfig
}

// New builds the app and mounts every route.
func New(container *app.Container) (*Server, error) {
	if container == nil {
		return nil, fmt.Errorf("dependency container is required")
	}
	cfg := container.Config
	if cfg == nil {
		return nil, fmt.Errorf("container missing config")
	}

	fapp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "lifehub",
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		ReadTimeout:           cfg.Server.ReadTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          httputil.ErrorHandler(container.Logger),
	})

	fapp.Use(requestid.New())
	fapp.Use(accessLog(container.Logger))
	fapp.Use(recover.New())

	if obs := container.Observability; obs != nil {
		fapp.Use(requestMetrics(obs))
		if obs.TracerProvider() != nil {
			fapp.Use(requestTracing())
		}
		if handler := obs.PrometheusHandler(); handler != nil {
			fapp.Get("/metrics", adaptor.HTTPHandler(handler))
		}
	}

	fapp.Get("/healthz", healthz(container))
	if container.Webhook != nil {
		container.Webhook.Register(fapp)
	}

	return &Server{app: fapp, cfg: cfg.Server}, nil
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until ctx is cancelled, then drains within the configured
// shutdown delay.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.GracefulShutdownDelay
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
