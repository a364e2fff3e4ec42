package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/messages"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

// GenerateMessageArrayForConversation assembles the prompt context of a
// conversation. The bool result is false when the conversation is gone.
func (s *Service) GenerateMessageArrayForConversation(ctx context.Context, conversationID string, forSummary, useContext bool, contextRole models.ContextType) ([]models.ChatMessage, bool, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var out []models.ChatMessage
	if role := contextRole.Role(); useContext && role != "" {
		text, err := s.contextText(ctx, conv, forSummary)
		if err != nil {
			return nil, false, err
		}
		if text != "" {
			out = append(out, models.ChatMessage{Role: role, Text: text})
		}
	}

	ids := conv.Messages
	msgs, err := s.messages.Load(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	if conv.MaxMessages > 0 && len(msgs) > conv.MaxMessages {
		msgs = msgs[len(msgs)-conv.MaxMessages:]
	}
	out = append(out, s.messages.ChatTurns(ctx, msgs, messages.TurnOptions{Images: !forSummary})...)
	return out, true, nil
}

func (s *Service) contextText(ctx context.Context, conv models.Conversation, forSummary bool) (string, error) {
	if forSummary {
		return summaryFraming, nil
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(conv.ContextPrompt))

	if len(conv.KnowledgeInjects) > 0 {
		ids := make([]string, 0, len(conv.KnowledgeInjects))
		for _, k := range conv.KnowledgeInjects {
			ids = append(ids, k.KnowledgeID)
		}
		found, err := s.store.ListKnowledgeByIDs(ctx, ids)
		if err != nil {
			return "", fmt.Errorf("load knowledge for %s: %w", conv.ID, err)
		}
		for _, inject := range conv.KnowledgeInjects {
			k, ok := found[inject.KnowledgeID]
			if !ok {
				s.logger.Warn("knowledge missing from conversation context",
					slog.String("conversation_id", conv.ID),
					slog.String("knowledge_id", inject.KnowledgeID))
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(knowledgeLeadIns[inject.UseType])
			b.WriteString("\n\n# ")
			b.WriteString(k.Title)
			b.WriteString("\n\n")
			b.WriteString(strings.TrimSpace(k.ContentMarkdown))
		}
	}
	return b.String(), nil
}
