// Package messages manages stored prompt/response turns and renders them as
// chat messages for providers.
package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

// ImageLoader returns stored images as base64 JPEG data.
type ImageLoader interface {
	LoadBase64(ctx context.Context, filename string) (string, error)
}

// Service is the message store accessor.
type Service struct {
	store  store.Messages
	images ImageLoader
	logger *slog.Logger
	now    func() time.Time
}

func NewService(st store.Messages, images ImageLoader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, images: images, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

type CreateParams struct {
	UserID   string
	Category string
	Tags     []string
	Prompt   string
	Response string
	Images   []models.ImageRef
	Sound    string
}

func (s *Service) Create(ctx context.Context, params CreateParams) (models.Message, error) {
	msg := models.Message{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Category:  params.Category,
		Tags:      append([]string(nil), params.Tags...),
		Prompt:    params.Prompt,
		Response:  params.Response,
		Images:    append([]models.ImageRef(nil), params.Images...),
		Sound:     params.Sound,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.Message, error) {
	return s.store.GetMessage(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Load returns the messages for ids in the given order. Ids without a stored
// message are dropped.
func (s *Service) Load(ctx context.Context, ids []string) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.store.ListMessagesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := found[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// AttachImages appends generated or uploaded images to a message.
func (s *Service) AttachImages(ctx context.Context, id string, images []models.ImageRef) (models.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	msg.Images = append(msg.Images, images...)
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("attach images to %s: %w", id, err)
	}
	return msg, nil
}

// AttachSound records a generated audio file on a message.
func (s *Service) AttachSound(ctx context.Context, id, filename string) (models.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	msg.Sound = filename
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("attach sound to %s: %w", id, err)
	}
	return msg, nil
}

// TurnOptions controls how stored messages are rendered.
type TurnOptions struct {
	// Images attaches usable images to user turns.
	Images bool
}

// ChatTurns renders each message as a user turn followed by an assistant
// turn. Messages still waiting for a response contribute only the user turn.
func (s *Service) ChatTurns(ctx context.Context, msgs []models.Message, opts TurnOptions) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs)*2)
	for _, msg := range msgs {
		user := models.ChatMessage{Role: models.RoleUser, Text: msg.Prompt}
		if opts.Images {
			user.Images = s.imageInputs(ctx, msg.Images)
		}
		out = append(out, user)
		if strings.TrimSpace(msg.Response) != "" {
			out = append(out, models.ChatMessage{Role: models.RoleAssistant, Text: msg.Response})
		}
	}
	return out
}

// ImageInputs loads the usable images of refs as provider inputs.
func (s *Service) ImageInputs(ctx context.Context, refs []models.ImageRef) []models.ImageInput {
	return s.imageInputs(ctx, refs)
}

func (s *Service) imageInputs(ctx context.Context, refs []models.ImageRef) []models.ImageInput {
	if s.images == nil || len(refs) == 0 {
		return nil
	}
	var out []models.ImageInput
	for _, ref := range refs {
		if ref.UseFlag == models.ImageDoNotUse {
			continue
		}
		data, err := s.images.LoadBase64(ctx, ref.Filename)
		if err != nil {
			s.logger.Error("load image for prompt", slog.String("image", ref.Filename), slog.Any("error", err))
			continue
		}
		detail := models.ImageDetailHigh
		if ref.UseFlag == models.ImageLowQuality {
			detail = models.ImageDetailLow
		}
		out = append(out, models.ImageInput{MediaType: "image/jpeg", Data: data, Detail: detail})
	}
	return out
}

// Materialize creates the finished message that replaces a placeholder.
func (s *Service) Materialize(ctx context.Context, placeholder models.Message, resp models.ChatResponse) (models.Message, error) {
	return s.Create(ctx, CreateParams{
		UserID:   placeholder.UserID,
		Category: placeholder.Category,
		Tags:     placeholder.Tags,
		Prompt:   placeholder.Prompt,
		Response: resp.Content,
		Images:   placeholder.Images,
	})
}

// MaterializeFailure creates a message recording why a placeholder could not
// be answered.
func (s *Service) MaterializeFailure(ctx context.Context, placeholder models.Message, reason string) (models.Message, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "the response failed"
	}
	return s.Create(ctx, CreateParams{
		UserID:   placeholder.UserID,
		Category: placeholder.Category,
		Tags:     placeholder.Tags,
		Prompt:   placeholder.Prompt,
		Response: "Error: " + reason,
		Images:   placeholder.Images,
	})
}
