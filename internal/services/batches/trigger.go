package batches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/conversations"
)

type TriggerStatus string

const (
	TriggerSubmitted TriggerStatus = "submitted"
	TriggerIdle      TriggerStatus = "idle"
	TriggerFailed    TriggerStatus = "failed"
)

// TriggerResult lists the prompts that were submitted and the batch jobs
// created for them. Err carries bucket failures; it is informational.
type TriggerResult struct {
	Status   TriggerStatus
	IDs      []string
	Requests []models.BatchRequest
	Err      error
}

type bucket struct {
	card  models.ModelCard
	items []models.BatchItem
}

// TriggerBatchRequest submits every unsubmitted prompt, one provider batch
// per model. Failures are logged and reported in the result.
func (s *Service) TriggerBatchRequest(ctx context.Context) TriggerResult {
	prompts, err := s.store.ListPromptsByRequestID(ctx, models.RequestIDNew)
	if err != nil {
		s.logger.Error("load queued prompts", slog.Any("error", err))
		return TriggerResult{Status: TriggerFailed, Err: err}
	}
	if len(prompts) == 0 {
		return TriggerResult{Status: TriggerIdle}
	}

	var order []string
	buckets := map[string]*bucket{}
	var errs []error
	for _, prompt := range prompts {
		item, card, err := s.buildItem(ctx, prompt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if item == nil {
			continue
		}
		b, ok := buckets[card.APIModel]
		if !ok {
			b = &bucket{card: card}
			buckets[card.APIModel] = b
			order = append(order, card.APIModel)
		}
		b.items = append(b.items, *item)
	}

	result := TriggerResult{}
	for _, model := range order {
		b := buckets[model]
		req, err := s.submit(ctx, b)
		if err != nil {
			s.logger.Error("submit batch", slog.String("model", model), slog.String("provider", b.card.Provider), slog.Any("error", err))
			s.metrics.RecordBatch(b.card.Provider, "submit_failed")
			errs = append(errs, err)
			continue
		}
		result.Requests = append(result.Requests, req)
		for _, item := range b.items {
			result.IDs = append(result.IDs, item.CustomID)
		}
	}

	result.Err = errors.Join(errs...)
	switch {
	case len(result.Requests) > 0:
		result.Status = TriggerSubmitted
	case result.Err != nil:
		result.Status = TriggerFailed
	default:
		result.Status = TriggerIdle
	}
	s.logger.Info("batch trigger finished",
		slog.String("status", string(result.Status)),
		slog.Int("prompts", len(result.IDs)),
		slog.Int("requests", len(result.Requests)))
	return result
}

// buildItem returns a nil item when the prompt was dropped.
func (s *Service) buildItem(ctx context.Context, prompt models.Prompt) (*models.BatchItem, models.ModelCard, error) {
	card, ok := s.catalog.Resolve(prompt.Model)
	if !ok {
		s.logger.Warn("dropping prompt with unknown model", slog.String("custom_id", prompt.CustomID), slog.String("model", prompt.Model))
		return nil, card, s.dropPrompt(ctx, prompt, "dropped")
	}

	history, ok, err := s.conversations.GenerateMessageArrayForConversation(ctx, prompt.ConversationID, prompt.IsSummary(), true, card.ContextType)
	if err != nil {
		return nil, card, fmt.Errorf("build context for %s: %w", prompt.CustomID, err)
	}
	if !ok {
		s.logger.Warn("dropping prompt for deleted conversation", slog.String("custom_id", prompt.CustomID), slog.String("conversation_id", prompt.ConversationID))
		return nil, card, s.dropPrompt(ctx, prompt, "orphaned")
	}

	if prompt.IsSummary() {
		history = append(history, models.ChatMessage{Role: models.RoleUser, Text: conversations.SummaryInstruction})
	} else {
		history = append(history, models.ChatMessage{
			Role:   models.RoleUser,
			Text:   prompt.Prompt,
			Images: s.messages.ImageInputs(ctx, prompt.Images),
		})
	}
	if !acceptsImages(card) {
		for i := range history {
			history[i].Images = nil
		}
	}

	req := models.ChatRequest{Model: card.APIModel, Messages: history}
	if card.MaxOutTokens > 0 {
		maxTokens := card.MaxOutTokens
		req.MaxTokens = &maxTokens
	}
	return &models.BatchItem{CustomID: prompt.CustomID, Request: req}, card, nil
}

func (s *Service) dropPrompt(ctx context.Context, prompt models.Prompt, outcome string) error {
	if err := s.store.DeletePrompt(ctx, prompt.CustomID); err != nil {
		return fmt.Errorf("delete prompt %s: %w", prompt.CustomID, err)
	}
	s.metrics.RecordPrompt(outcome)
	return nil
}

func (s *Service) submit(ctx context.Context, b *bucket) (models.BatchRequest, error) {
	provider, err := s.batchProvider(b.card.Provider)
	if err != nil {
		return models.BatchRequest{}, err
	}
	req, err := provider.SubmitBatch(ctx, b.card.APIModel, b.items)
	if err != nil {
		return models.BatchRequest{}, err
	}
	if req.Provider == "" {
		req.Provider = b.card.Provider
	}
	req.Model = b.card.APIModel
	if req.RequestCountsTotal == 0 {
		req.RequestCountsTotal = len(b.items)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	if err := s.store.InsertBatchRequest(ctx, req); err != nil {
		return models.BatchRequest{}, fmt.Errorf("record batch %s: %w", req.ID, err)
	}

	ids := make([]string, 0, len(b.items))
	for _, item := range b.items {
		ids = append(ids, item.CustomID)
	}
	if _, err := s.store.AssignRequestID(ctx, ids, req.ID); err != nil {
		return models.BatchRequest{}, fmt.Errorf("assign prompts to %s: %w", req.ID, err)
	}
	s.metrics.RecordBatch(req.Provider, "submitted")
	s.logger.Info("batch submitted",
		slog.String("batch_id", req.ID),
		slog.String("provider", req.Provider),
		slog.String("model", req.Model),
		slog.Int("prompts", len(ids)))
	return req, nil
}

// acceptsImages reports whether the card takes image input. Cards without
// declared modalities are trusted.
func acceptsImages(card models.ModelCard) bool {
	return len(card.InModalities) == 0 || slices.Contains(card.InModalities, "image")
}
