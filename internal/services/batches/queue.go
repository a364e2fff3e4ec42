package batches

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

// Queue is the operator view of queued prompts and recent batch jobs.
type Queue struct {
	Prompts  []models.Prompt
	Requests []models.BatchRequest
}

// ListQueue returns every prompt and the batch jobs created within the
// configured window, newest first.
func (s *Service) ListQueue(ctx context.Context) (Queue, error) {
	prompts, err := s.store.ListPrompts(ctx)
	if err != nil {
		return Queue{}, err
	}
	days := s.cfg.QueueListWindowDays
	if days <= 0 {
		days = 7
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	requests, err := s.store.ListBatchRequestsSince(ctx, since)
	if err != nil {
		return Queue{}, err
	}
	return Queue{Prompts: prompts, Requests: requests}, nil
}

func (s *Service) DeletePrompt(ctx context.Context, customID string) error {
	if _, err := s.store.GetPrompt(ctx, customID); err != nil {
		return fmt.Errorf("prompt %s: %w", customID, err)
	}
	return s.dropPrompt(ctx, models.Prompt{CustomID: customID}, "deleted")
}

// PendingConversationIDs returns each conversation with an unsubmitted
// prompt once, in queue order.
func (s *Service) PendingConversationIDs(ctx context.Context) ([]string, error) {
	prompts, err := s.store.ListPromptsByRequestID(ctx, models.RequestIDNew)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range prompts {
		if !slices.Contains(ids, p.ConversationID) {
			ids = append(ids, p.ConversationID)
		}
	}
	return ids, nil
}
