package batches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/realtime"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/conversations"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/messages"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

// ConversationUpdate describes messages a batch added to a conversation.
type ConversationUpdate struct {
	ConversationID string
	Title          string
	Members        []string
	Messages       []models.Message
}

// ProcessResult lists drained batch ids, consumed prompt ids and the
// conversations that received new messages.
type ProcessResult struct {
	Requests      []string
	Prompts       []string
	Conversations []ConversationUpdate
}

// CheckBatchStatus refreshes one batch row from its provider.
func (s *Service) CheckBatchStatus(ctx context.Context, batchID string) (models.BatchRequest, error) {
	req, err := s.store.GetBatchRequest(ctx, batchID)
	if err != nil {
		return models.BatchRequest{}, err
	}
	provider, err := s.batchProvider(req.Provider)
	if err != nil {
		return models.BatchRequest{}, err
	}
	status, err := provider.CheckStatus(ctx, req)
	if err != nil {
		return models.BatchRequest{}, fmt.Errorf("check batch %s: %w", batchID, err)
	}

	updated := status.Apply(req)
	if err := s.store.UpdateBatchRequest(ctx, updated); err != nil {
		return models.BatchRequest{}, fmt.Errorf("update batch %s: %w", batchID, err)
	}
	if updated.Status != req.Status {
		s.metrics.RecordBatch(updated.Provider, updated.Status)
		s.logger.Info("batch status changed",
			slog.String("batch_id", batchID),
			slog.String("from", req.Status),
			slog.String("to", updated.Status))
	}
	return updated, nil
}

// RefreshOpenBatches checks every batch that has not reached a terminal
// status. Individual failures are joined and the rest still run.
func (s *Service) RefreshOpenBatches(ctx context.Context) ([]models.BatchRequest, error) {
	open, err := s.store.ListOpenBatchRequests(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.BatchRequest
	var errs []error
	for _, req := range open {
		updated, err := s.CheckBatchStatus(ctx, req.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, updated)
	}
	return out, errors.Join(errs...)
}

// ProcessBatchResponses drains every completed batch onto its conversations
// and marks it DONE. Concurrent calls run one after another, so a batch is
// drained once.
func (s *Service) ProcessBatchResponses(ctx context.Context) (ProcessResult, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	completed, err := s.store.ListBatchRequestsByStatus(ctx, models.BatchStatusCompleted)
	if err != nil {
		return ProcessResult{}, err
	}

	var result ProcessResult
	for _, req := range completed {
		if err := s.drain(ctx, req, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Service) drain(ctx context.Context, req models.BatchRequest, result *ProcessResult) error {
	provider, err := s.batchProvider(req.Provider)
	if err != nil {
		return err
	}
	results, err := provider.FetchResults(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch results for %s: %w", req.ID, err)
	}
	card, _ := s.catalog.Resolve(req.Model)

	for _, res := range results {
		prompt, err := s.store.GetPrompt(ctx, res.CustomID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		update, err := s.consume(ctx, prompt, res, card)
		if err != nil {
			return err
		}
		result.Prompts = append(result.Prompts, prompt.CustomID)
		if update != nil {
			result.Conversations = append(result.Conversations, *update)
		}
	}

	// Prompts the provider returned nothing for would otherwise wait forever.
	leftover, err := s.store.ListPromptsByRequestID(ctx, req.ID)
	if err != nil {
		return err
	}
	for _, prompt := range leftover {
		s.logger.Warn("no batch result for prompt", slog.String("custom_id", prompt.CustomID), slog.String("batch_id", req.ID))
		if err := s.dropPrompt(ctx, prompt, "failed"); err != nil {
			return err
		}
		result.Prompts = append(result.Prompts, prompt.CustomID)
	}

	req.Status = models.BatchStatusDone
	if err := s.store.UpdateBatchRequest(ctx, req); err != nil {
		return fmt.Errorf("mark batch %s done: %w", req.ID, err)
	}
	s.metrics.RecordBatch(req.Provider, models.BatchStatusDone)
	if err := provider.DeleteArtifacts(ctx, req); err != nil {
		s.logger.Warn("delete batch artifacts", slog.String("batch_id", req.ID), slog.Any("error", err))
	}
	result.Requests = append(result.Requests, req.ID)
	s.logger.Info("batch drained", slog.String("batch_id", req.ID), slog.Int("results", len(results)))
	return nil
}

func (s *Service) consume(ctx context.Context, prompt models.Prompt, res models.BatchResult, card models.ModelCard) (*ConversationUpdate, error) {
	if res.Failed() {
		s.logger.Warn("batch result failed",
			slog.String("custom_id", prompt.CustomID),
			slog.String("conversation_id", prompt.ConversationID),
			slog.String("error", res.Error))
		return nil, s.dropPrompt(ctx, prompt, "failed")
	}
	s.recordUsage(prompt, res, card)

	if prompt.IsSummary() {
		err := s.conversations.UpdateSummary(ctx, prompt.ConversationID, res.Content)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, s.dropPrompt(ctx, prompt, "summarized")
	}

	conv, err := s.conversations.Get(ctx, prompt.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.dropPrompt(ctx, prompt, "orphaned")
	}
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.Create(ctx, messages.CreateParams{
		UserID:   prompt.UserID,
		Category: conv.Category,
		Tags:     conv.Tags,
		Prompt:   prompt.Prompt,
		Response: res.Content,
		Images:   prompt.Images,
	})
	if err != nil {
		return nil, err
	}
	conv, err = s.conversations.AppendMessages(ctx, conv.ID, msg.ID)
	if err != nil {
		return nil, err
	}
	if err := s.dropPrompt(ctx, prompt, "answered"); err != nil {
		return nil, err
	}

	if err := realtime.PushMessages(ctx, s.realtime, conv, []models.Message{msg}, ""); err != nil {
		s.logger.Warn("push batch message", slog.String("conversation_id", conv.ID), slog.Any("error", err))
	}
	s.queueSummary(ctx, prompt, conv)

	return &ConversationUpdate{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Members:        conv.Recipients(),
		Messages:       []models.Message{msg},
	}, nil
}

func (s *Service) queueSummary(ctx context.Context, prompt models.Prompt, conv models.Conversation) {
	title := prompt.Title
	if title == "" {
		title = conv.Title
	}
	res, err := s.AddPromptToBatch(ctx, AddPromptParams{
		UserID:         prompt.UserID,
		Prompt:         models.SummaryPrompt,
		ConversationID: conv.ID,
		Parameters:     conversations.Parameters{Title: title},
		Model:          s.cfg.SummaryModel,
	})
	if err != nil {
		s.logger.Error("queue summary", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return
	}
	if res.Status == AddSkipped {
		s.logger.Warn("summary model not batch enabled", slog.String("model", s.cfg.SummaryModel))
	}
}

func (s *Service) recordUsage(prompt models.Prompt, res models.BatchResult, card models.ModelCard) {
	model := res.Model
	if model == "" {
		model = prompt.Model
	}
	cost, _ := card.Cost(res.Usage, s.cfg.BatchDiscount).Float64()
	s.metrics.RecordUsage(model, card.Provider, res.Usage.PromptTokens, res.Usage.CompletionTokens, cost)
}
