// Package conversations owns conversation documents: creation and copying,
// prompt-context assembly and reconciliation of background responses.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/messages"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

var (
	ErrNoBackgroundProvider = errors.New("no provider supports background responses")
	ErrImagesUnavailable    = errors.New("image storage not configured")
)

// SummaryInstruction is the final user turn of a summary request.
const SummaryInstruction = "Based on our discussion, please generate a concise summary that encapsulates the main facts, conclusions, and insights we derived, without the need to mention the specific dialogue exchanges. This summary should serve as an informative overlook of our conversation, providing clear insight into the topics discussed, the conclusions reached, and any significant facts or advice given. The goal is for someone to grasp the essence of our dialogue and its outcomes from this summary without needing to read the entire conversation."

const summaryFraming = "You are an assistant that writes summaries of conversations between a user and an AI assistant. Keep the summary factual and self-contained."

var knowledgeLeadIns = map[models.KnowledgeUseType]string{
	models.KnowledgeContext:   "This is some additional context:",
	models.KnowledgeReference: "Use as reference for guiding your answer:",
	models.KnowledgeExample:   "This is an example of the type of output I want:",
}

// Store is the persistence the service needs.
type Store interface {
	store.Conversations
	store.Knowledge
	store.PendingRequests
}

// ImageStore saves uploads and loads stored images.
type ImageStore interface {
	Save(ctx context.Context, r io.Reader) (string, error)
	LoadBase64(ctx context.Context, filename string) (string, error)
}

type Deps struct {
	Store      Store
	Messages   *messages.Service
	Images     ImageStore
	Background providers.BackgroundResponder
	Logger     *slog.Logger
}

// Service is the conversation store accessor.
type Service struct {
	store      Store
	messages   *messages.Service
	images     ImageStore
	background providers.BackgroundResponder
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      deps.Store,
		messages:   deps.Messages,
		images:     deps.Images,
		background: deps.Background,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Parameters describe a conversation created on behalf of a prompt.
type Parameters struct {
	Title       string
	Description string
	Category    string
	// Tags is a comma separated list, as submitted by the chat form.
	Tags         string
	Context      string
	DefaultModel string
	MaxMessages  int
	Knowledge    []models.KnowledgeInject
	Members      []string

	AppendMessageIDs []string
	StartMessage     string
	EndMessage       string
}

// SplitTags turns "a, b,,c" into [a b c].
func SplitTags(raw string) []string {
	var out []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" && !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

func (s *Service) Get(ctx context.Context, id string) (models.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// Exists reports whether the conversation is still stored.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) newConversation(userID string, p Parameters) models.Conversation {
	now := s.now()
	id := uuid.NewString()
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "(no title)"
	}
	return models.Conversation{
		ID:               id,
		UserID:           userID,
		GroupID:          id,
		Title:            title,
		Description:      p.Description,
		Category:         p.Category,
		Tags:             SplitTags(p.Tags),
		ContextPrompt:    p.Context,
		KnowledgeInjects: append([]models.KnowledgeInject(nil), p.Knowledge...),
		DefaultModel:     p.DefaultModel,
		MaxMessages:      p.MaxMessages,
		Members:          append([]string(nil), p.Members...),
		Messages:         []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// CreateEmptyConversation stores a conversation without messages.
func (s *Service) CreateEmptyConversation(ctx context.Context, userID string, p Parameters) (models.Conversation, error) {
	conv := s.newConversation(userID, p)
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// CreateConversationFromMessages starts a conversation from existing
// messages. Unknown ids are dropped.
func (s *Service) CreateConversationFromMessages(ctx context.Context, userID string, messageIDs []string, p Parameters) (models.Conversation, error) {
	msgs, err := s.messages.Load(ctx, messageIDs)
	if err != nil {
		return models.Conversation{}, err
	}
	conv := s.newConversation(userID, p)
	for _, msg := range msgs {
		conv.Messages = append(conv.Messages, msg.ID)
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// CopyConversation copies a conversation, keeping the messages between the
// start and end markers inclusive. An empty or unknown marker leaves that
// side open. The copy shares the original's group id.
func (s *Service) CopyConversation(ctx context.Context, id, start, end string) (models.Conversation, error) {
	orig, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return models.Conversation{}, err
	}
	from, to := 0, len(orig.Messages)
	if i := slices.Index(orig.Messages, start); start != "" && i >= 0 {
		from = i
	}
	if i := slices.Index(orig.Messages, end); end != "" && i >= 0 {
		to = i + 1
	}
	if from > to {
		from, to = to-1, from+1
	}

	now := s.now()
	cp := orig
	cp.ID = uuid.NewString()
	if cp.GroupID == "" {
		cp.GroupID = orig.ID
	}
	cp.Messages = slices.Clone(orig.Messages[from:to])
	cp.Tags = slices.Clone(orig.Tags)
	cp.Members = slices.Clone(orig.Members)
	cp.KnowledgeInjects = slices.Clone(orig.KnowledgeInjects)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	if err := s.store.CreateConversation(ctx, cp); err != nil {
		return models.Conversation{}, fmt.Errorf("copy conversation %s: %w", id, err)
	}
	return cp, nil
}

// AppendMessages adds message ids to the end of a conversation.
func (s *Service) AppendMessages(ctx context.Context, id string, messageIDs ...string) (models.Conversation, error) {
	conv, err := s.store.UpdateConversationMessages(ctx, id, nil, messageIDs, s.now())
	if err != nil {
		return models.Conversation{}, fmt.Errorf("append to conversation %s: %w", id, err)
	}
	return conv, nil
}

// RemoveMessage drops a message id from a conversation.
func (s *Service) RemoveMessage(ctx context.Context, id, messageID string) error {
	_, err := s.store.UpdateConversationMessages(ctx, id, []string{messageID}, nil, s.now())
	return err
}

func (s *Service) UpdateSummary(ctx context.Context, id, summary string) error {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	conv.Summary = strings.TrimSpace(summary)
	conv.UpdatedAt = s.now()
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return fmt.Errorf("update summary %s: %w", id, err)
	}
	return nil
}

func (s *Service) SaveImage(ctx context.Context, r io.Reader) (string, error) {
	if s.images == nil {
		return "", ErrImagesUnavailable
	}
	return s.images.Save(ctx, r)
}

func (s *Service) LoadImageBase64(ctx context.Context, filename string) (string, error) {
	if s.images == nil {
		return "", ErrImagesUnavailable
	}
	return s.images.LoadBase64(ctx, filename)
}

func messagesCreate(p BackgroundParams, conv models.Conversation) messages.CreateParams {
	return messages.CreateParams{
		UserID:   p.UserID,
		Category: conv.Category,
		Tags:     conv.Tags,
		Prompt:   p.Prompt,
		Images:   p.Images,
	}
}
