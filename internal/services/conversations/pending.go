package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

// Resolution describes a placeholder that was replaced.
type Resolution struct {
	Conversation  models.Conversation
	Messages      []models.Message
	PlaceholderID string
	Failed        bool
}

// BackgroundParams describe a single asynchronous answer request.
type BackgroundParams struct {
	ConversationID string
	UserID         string
	Prompt         string
	Images         []models.ImageRef
	Model          string
	ContextRole    models.ContextType
	MaxTokens      *int32
}

// RequestBackgroundResponse inserts a placeholder message, starts a
// background response and records the pending request that links them.
func (s *Service) RequestBackgroundResponse(ctx context.Context, p BackgroundParams) (models.PendingRequest, error) {
	if s.background == nil {
		return models.PendingRequest{}, ErrNoBackgroundProvider
	}
	history, ok, err := s.GenerateMessageArrayForConversation(ctx, p.ConversationID, false, true, p.ContextRole)
	if err != nil {
		return models.PendingRequest{}, err
	}
	if !ok {
		return models.PendingRequest{}, fmt.Errorf("conversation %s: %w", p.ConversationID, store.ErrNotFound)
	}
	conv, err := s.store.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return models.PendingRequest{}, err
	}

	history = append(history, models.ChatMessage{
		Role:   models.RoleUser,
		Text:   p.Prompt,
		Images: s.messages.ImageInputs(ctx, p.Images),
	})
	placeholder, err := s.messages.Create(ctx, messagesCreate(p, conv))
	if err != nil {
		return models.PendingRequest{}, err
	}

	responseID, err := s.background.CreateBackgroundResponse(ctx, models.ChatRequest{
		Model:     p.Model,
		Messages:  history,
		MaxTokens: p.MaxTokens,
	})
	if err != nil {
		if delErr := s.messages.Delete(ctx, placeholder.ID); delErr != nil {
			s.logger.Error("remove placeholder after failed request", slog.String("message_id", placeholder.ID), slog.Any("error", delErr))
		}
		return models.PendingRequest{}, err
	}

	if _, err := s.AppendMessages(ctx, conv.ID, placeholder.ID); err != nil {
		return models.PendingRequest{}, err
	}
	pending := models.PendingRequest{
		ResponseID:     responseID,
		ConversationID: conv.ID,
		PlaceholderID:  placeholder.ID,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreatePendingRequest(ctx, pending); err != nil {
		return models.PendingRequest{}, fmt.Errorf("record pending request %s: %w", responseID, err)
	}
	return pending, nil
}

// ProcessCompletedResponse replaces the placeholder of responseID with the
// finished answer. It returns nil when nothing is waiting for the response.
func (s *Service) ProcessCompletedResponse(ctx context.Context, responseID string) (*Resolution, error) {
	pending, conv, ok, err := s.lookupPending(ctx, responseID)
	if err != nil || !ok {
		return nil, err
	}
	if s.background == nil {
		return nil, ErrNoBackgroundProvider
	}
	resp, err := s.background.GetResponse(ctx, responseID)
	if err != nil {
		return nil, fmt.Errorf("fetch response %s: %w", responseID, err)
	}
	return s.resolve(ctx, pending, conv, func(placeholder models.Message) (models.Message, error) {
		return s.messages.Materialize(ctx, placeholder, resp)
	}, false)
}

// ProcessFailedResponse replaces the placeholder of responseID with an error
// message.
func (s *Service) ProcessFailedResponse(ctx context.Context, responseID string) (*Resolution, error) {
	pending, conv, ok, err := s.lookupPending(ctx, responseID)
	if err != nil || !ok {
		return nil, err
	}
	return s.resolve(ctx, pending, conv, func(placeholder models.Message) (models.Message, error) {
		return s.messages.MaterializeFailure(ctx, placeholder, fmt.Sprintf("response %s did not complete", responseID))
	}, true)
}

func (s *Service) lookupPending(ctx context.Context, responseID string) (models.PendingRequest, models.Conversation, bool, error) {
	pending, err := s.store.GetPendingRequest(ctx, responseID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("no pending request for response", slog.String("response_id", responseID))
		return models.PendingRequest{}, models.Conversation{}, false, nil
	}
	if err != nil {
		return models.PendingRequest{}, models.Conversation{}, false, err
	}

	conv, err := s.store.GetConversation(ctx, pending.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("conversation gone for pending request",
			slog.String("response_id", responseID),
			slog.String("conversation_id", pending.ConversationID))
		if _, err := s.store.DeletePendingRequest(ctx, responseID); err != nil {
			return models.PendingRequest{}, models.Conversation{}, false, err
		}
		return models.PendingRequest{}, models.Conversation{}, false, nil
	}
	if err != nil {
		return models.PendingRequest{}, models.Conversation{}, false, err
	}
	return pending, conv, true, nil
}

func (s *Service) resolve(ctx context.Context, pending models.PendingRequest, conv models.Conversation, build func(models.Message) (models.Message, error), failed bool) (res *Resolution, err error) {
	// Deleting the row claims the response; a concurrent delivery sees false.
	claimed, err := s.store.DeletePendingRequest(ctx, pending.ResponseID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	// Hand the claim back on failure so a redelivery can finish the work.
	defer func() {
		if err == nil {
			return
		}
		if restoreErr := s.store.CreatePendingRequest(context.WithoutCancel(ctx), pending); restoreErr != nil {
			s.logger.Error("restore pending request",
				slog.String("response_id", pending.ResponseID),
				slog.Any("error", restoreErr))
		}
	}()

	placeholder, err := s.messages.Get(ctx, pending.PlaceholderID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if placeholder.UserID == "" {
		placeholder.UserID = conv.UserID
	}
	if placeholder.Category == "" {
		placeholder.Category = conv.Category
		placeholder.Tags = conv.Tags
	}

	msg, err := build(placeholder)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateConversationMessages(ctx, conv.ID, []string{pending.PlaceholderID}, []string{msg.ID}, s.now())
	if err != nil {
		if delErr := s.messages.Delete(context.WithoutCancel(ctx), msg.ID); delErr != nil {
			s.logger.Warn("remove unattached message", slog.String("message_id", msg.ID), slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("update conversation %s: %w", conv.ID, err)
	}
	if err := s.messages.Delete(ctx, pending.PlaceholderID); err != nil {
		s.logger.Warn("remove placeholder message", slog.String("message_id", pending.PlaceholderID), slog.Any("error", err))
	}

	return &Resolution{
		Conversation:  updated,
		Messages:      []models.Message{msg},
		PlaceholderID: pending.PlaceholderID,
		Failed:        failed,
	}, nil
}
