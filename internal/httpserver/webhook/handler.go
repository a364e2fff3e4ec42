// Package webhook receives provider callbacks and feeds them into the batch
// and conversation services.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lentmiien/lentmiien-site-sub001/internal/httpserver/httputil"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/realtime"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/conversations"
)

type BatchProcessor interface {
	CheckBatchStatus(ctx context.Context, batchID string) (models.BatchRequest, error)
	ProcessBatchResponses(ctx context.Context) (batches.ProcessResult, error)
}

type ResponseProcessor interface {
	ProcessCompletedResponse(ctx context.Context, responseID string) (*conversations.Resolution, error)
	ProcessFailedResponse(ctx context.Context, responseID string) (*conversations.Resolution, error)
}

// Claimer deduplicates deliveries. *cache.IdempotencyCache satisfies it.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Metrics interface {
	RecordWebhookEvent(event, outcome string)
}

type Deps struct {
	Verifier       *Verifier
	Batches        BatchProcessor
	Responses      ResponseProcessor
	Dedupe         Claimer
	Realtime       realtime.Publisher
	Metrics        Metrics
	ProcessTimeout time.Duration
	Logger         *slog.Logger
}

type Handler struct {
	verifier  *Verifier
	batches   BatchProcessor
	responses ResponseProcessor
	dedupe    Claimer
	realtime  realtime.Publisher
	metrics   Metrics
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.ProcessTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	pub := deps.Realtime
	if pub == nil {
		pub = realtime.Discard{}
	}
	return &Handler{
		verifier:  deps.Verifier,
		batches:   deps.Batches,
		responses: deps.Responses,
		dedupe:    deps.Dedupe,
		realtime:  pub,
		metrics:   deps.Metrics,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "webhook")),
	}
}

// Register mounts the webhook routes.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/webhook/openai", h.openai)
}

// Wait blocks until detached event processing has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) openai(c *fiber.Ctx) error {
	// fiber reuses the request buffer once the handler returns
	body := append([]byte(nil), c.Body()...)
	webhookID := c.Get("webhook-id")

	event, err := h.verifier.Unwrap(body, requestHeaders(c))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		h.record("unknown", "rejected")
		h.logger.Warn("webhook signature rejected", slog.Any("error", err))
		return httputil.WriteError(c, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, ErrMalformedEvent):
		h.record("unknown", "malformed")
		return httputil.WriteError(c, http.StatusInternalServerError, "malformed event")
	case err != nil:
		h.record("unknown", "rejected")
		h.logger.Error("webhook verification failed", slog.Any("error", err))
		return httputil.WriteError(c, http.StatusInternalServerError, "")
	}

	if h.dedupe != nil {
		claimed, err := h.dedupe.Claim(c.UserContext(), dedupeKey(webhookID))
		if err != nil {
			h.logger.Warn("webhook dedupe unavailable", slog.Any("error", err))
		} else if !claimed {
			h.record(event.Type, "duplicate")
			return c.SendStatus(http.StatusOK)
		}
	}

	h.record(event.Type, "accepted")
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.Dispatch(ctx, event); err != nil {
			h.record(event.Type, "failed")
			h.logger.Error("webhook processing failed",
				slog.String("event", event.Type),
				slog.String("object_id", event.Data.ID),
				slog.Any("error", err))
			// a redelivery of the same id may retry the work
			if h.dedupe != nil {
				if err := h.dedupe.Release(ctx, dedupeKey(webhookID)); err != nil {
					h.logger.Warn("release webhook claim", slog.Any("error", err))
				}
			}
		}
	}()
	return c.SendStatus(http.StatusOK)
}

// Dispatch runs the work an event implies.
func (h *Handler) Dispatch(ctx context.Context, event Event) error {
	id := event.Data.ID
	switch event.Type {
	case "batch.completed":
		if _, err := h.batches.CheckBatchStatus(ctx, id); err != nil {
			return err
		}
		res, err := h.batches.ProcessBatchResponses(ctx)
		if err != nil {
			return err
		}
		h.logger.Info("batch webhook processed",
			slog.String("batch_id", id),
			slog.Int("requests", len(res.Requests)),
			slog.Int("prompts", len(res.Prompts)))
		return nil
	case "batch.failed", "batch.expired", "batch.cancelled":
		_, err := h.batches.CheckBatchStatus(ctx, id)
		return err
	case "response.completed":
		res, err := h.responses.ProcessCompletedResponse(ctx, id)
		if err != nil {
			return err
		}
		return h.push(ctx, res)
	case "response.failed", "response.cancelled", "response.incomplete":
		res, err := h.responses.ProcessFailedResponse(ctx, id)
		if err != nil {
			return err
		}
		return h.push(ctx, res)
	case "video.completed", "video.failed":
		// Video generation has no local state to reconcile.
		h.logger.Info("video event acknowledged", slog.String("event", event.Type), slog.String("video_id", id))
		return nil
	default:
		h.logger.Info("webhook event ignored", slog.String("event", event.Type), slog.String("object_id", id))
		return nil
	}
}

func (h *Handler) push(ctx context.Context, res *conversations.Resolution) error {
	if res == nil {
		return nil
	}
	return realtime.PushMessages(ctx, h.realtime, res.Conversation, res.Messages, res.PlaceholderID)
}

func (h *Handler) record(event, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(event, outcome)
	}
}

func requestHeaders(c *fiber.Ctx) http.Header {
	headers := make(http.Header)
	for name, values := range c.GetReqHeaders() {
		for _, v := range values {
			headers.Add(name, v)
		}
	}
	return headers
}

func dedupeKey(webhookID string) string {
	return "openai:" + webhookID
}
