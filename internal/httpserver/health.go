package httpserver

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lentmiien/lentmiien-site-sub001/internal/app"
	"github.com/lentmiien/lentmiien-site-sub001/internal/redisclient"
)

type healthCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func runCheck(ctx context.Context, ping func(context.Context) error) healthCheck {
	start := time.Now()
	err := ping(ctx)
	check := healthCheck{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = "error"
		check.Error = err.Error()
	}
	return check
}

// healthz reports the store and, when configured, redis. Failures degrade the
// overall status but the endpoint itself always answers 200.
func healthz(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := make(map[string]healthCheck, 2)
		if container.Store != nil {
			checks[container.Config.Database.Driver] = runCheck(ctx, container.Store.Ping)
		}
		if container.Redis != nil {
			checks["redis"] = runCheck(ctx, func(ctx context.Context) error {
				return redisclient.Ping(ctx, container.Redis)
			})
		}

		overall := "ok"
		for _, check := range checks {
			if check.Status != "ok" {
				overall = "degraded"
			}
		}
		return c.JSON(fiber.Map{"status": overall, "checks": checks})
	}
}
