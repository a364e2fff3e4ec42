// Package batches queues prompts for deferred processing, groups them into
// provider batch jobs and fans the results back onto conversations.
package batches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers"
	"github.com/lentmiien/lentmiien-site-sub001/internal/realtime"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/conversations"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/messages"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

// ErrUnknownProvider is returned when a model card names a provider with no
// batch adapter.
var ErrUnknownProvider = errors.New("batches: no batch adapter for provider")

type Store interface {
	store.Prompts
	store.BatchRequests
}

type Catalog interface {
	Resolve(model string) (models.ModelCard, bool)
}

type Providers interface {
	Batch(name string) (providers.BatchProvider, error)
}

// Metrics receives lifecycle counters. *observability.Provider satisfies it.
type Metrics interface {
	RecordPrompt(outcome string)
	RecordBatch(provider, status string)
	RecordUsage(model, provider string, promptTokens, completionTokens int64, cost float64)
}

type Deps struct {
	Store         Store
	Catalog       Catalog
	Providers     Providers
	Conversations *conversations.Service
	Messages      *messages.Service
	Realtime      realtime.Publisher
	Metrics       Metrics
	Config        config.BatchesConfig
	Logger        *slog.Logger
}

// Service orchestrates the prompt queue and provider batch jobs.
type Service struct {
	store         Store
	catalog       Catalog
	providers     Providers
	conversations *conversations.Service
	messages      *messages.Service
	realtime      realtime.Publisher
	metrics       Metrics
	cfg           config.BatchesConfig
	logger        *slog.Logger
	now           func() time.Time

	// drainMu serializes ProcessBatchResponses between the webhook and the
	// status poller.
	drainMu sync.Mutex
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := deps.Realtime
	if pub == nil {
		pub = realtime.Discard{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		store:         deps.Store,
		catalog:       deps.Catalog,
		providers:     deps.Providers,
		conversations: deps.Conversations,
		messages:      deps.Messages,
		realtime:      pub,
		metrics:       metrics,
		cfg:           deps.Config,
		logger:        logger.With(slog.String("component", "batches")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type AddStatus string

const (
	AddQueued    AddStatus = "queued"
	AddSkipped   AddStatus = "skipped"
	AddDuplicate AddStatus = "duplicate"
)

type AddPromptParams struct {
	UserID         string
	Prompt         string
	ConversationID string
	// ImagePaths are local files stored through the image service before
	// the prompt is queued.
	ImagePaths []string
	Parameters conversations.Parameters
	Model      string
}

// AddResult reports what AddPromptToBatch did. ConversationID is empty
// when the prompt was skipped.
type AddResult struct {
	Status         AddStatus
	ConversationID string
	CustomID       string
}

// AddPromptToBatch queues a prompt for the next batch submission.
func (s *Service) AddPromptToBatch(ctx context.Context, p AddPromptParams) (AddResult, error) {
	card, ok := s.catalog.Resolve(p.Model)
	if !ok {
		s.logger.Warn("skipping prompt for unsupported model", slog.String("model", p.Model), slog.String("user_id", p.UserID))
		s.metrics.RecordPrompt("skipped")
		return AddResult{Status: AddSkipped}, nil
	}

	if p.Prompt == models.SummaryPrompt && p.ConversationID != models.RequestIDNew {
		exists, err := s.store.PendingSummaryExists(ctx, p.ConversationID)
		if err != nil {
			return AddResult{}, err
		}
		if exists {
			s.metrics.RecordPrompt("duplicate")
			return AddResult{Status: AddDuplicate, ConversationID: p.ConversationID}, nil
		}
	}

	conversationID, err := s.resolveConversation(ctx, p)
	if err != nil {
		return AddResult{}, err
	}

	images, err := s.storeImages(ctx, p.ImagePaths)
	if err != nil {
		return AddResult{}, err
	}

	title := strings.TrimSpace(p.Parameters.Title)
	if title == "" {
		title = "(no title)"
	}
	prompt := models.Prompt{
		CustomID:       newCustomID(s.now()),
		ConversationID: conversationID,
		RequestID:      models.RequestIDNew,
		UserID:         p.UserID,
		Title:          title,
		Prompt:         p.Prompt,
		Model:          card.APIModel,
		Images:         images,
		CreatedAt:      s.now(),
	}
	if err := s.store.InsertPrompt(ctx, prompt); err != nil {
		return AddResult{}, fmt.Errorf("queue prompt: %w", err)
	}
	s.metrics.RecordPrompt("queued")
	s.logger.Info("prompt queued",
		slog.String("custom_id", prompt.CustomID),
		slog.String("conversation_id", conversationID),
		slog.String("model", prompt.Model))
	return AddResult{Status: AddQueued, ConversationID: conversationID, CustomID: prompt.CustomID}, nil
}

func (s *Service) resolveConversation(ctx context.Context, p AddPromptParams) (string, error) {
	params := p.Parameters
	switch {
	case len(params.AppendMessageIDs) > 0:
		conv, err := s.conversations.CreateConversationFromMessages(ctx, p.UserID, params.AppendMessageIDs, params)
		return conv.ID, err
	case p.ConversationID == models.RequestIDNew:
		conv, err := s.conversations.CreateEmptyConversation(ctx, p.UserID, params)
		return conv.ID, err
	case params.StartMessage != "" || params.EndMessage != "":
		conv, err := s.conversations.CopyConversation(ctx, p.ConversationID, params.StartMessage, params.EndMessage)
		return conv.ID, err
	}
	return p.ConversationID, nil
}

func (s *Service) storeImages(ctx context.Context, paths []string) ([]models.ImageRef, error) {
	var refs []models.ImageRef
	for _, path := range paths {
		name, err := s.storeImage(ctx, path)
		if err != nil {
			return nil, err
		}
		refs = append(refs, models.ImageRef{Filename: name, UseFlag: models.ImageHighQuality})
	}
	return refs, nil
}

func (s *Service) storeImage(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()
	name, err := s.conversations.SaveImage(ctx, f)
	if err != nil {
		return "", fmt.Errorf("store image %s: %w", path, err)
	}
	return name, nil
}

func (s *Service) batchProvider(name string) (providers.BatchProvider, error) {
	if s.providers == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	p, err := s.providers.Batch(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownProvider, name, err)
	}
	return p, nil
}

const customIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newCustomID returns prompt-<unix ms>-<10 base36 chars>.
func newCustomID(now time.Time) string {
	var b strings.Builder
	b.WriteString("prompt-")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')
	for range 10 {
		b.WriteByte(customIDAlphabet[rand.IntN(len(customIDAlphabet))])
	}
	return b.String()
}

type noopMetrics struct{}

func (noopMetrics) RecordPrompt(string)                               {}
func (noopMetrics) RecordBatch(string, string)                        {}
func (noopMetrics) RecordUsage(string, string, int64, int64, float64) {}
