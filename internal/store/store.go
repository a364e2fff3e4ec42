// Package store defines persistence contracts for prompts, batch jobs,
// conversations and their supporting documents.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

type Prompts interface {
	InsertPrompt(ctx context.Context, prompt models.Prompt) error
	GetPrompt(ctx context.Context, customID string) (models.Prompt, error)
	// ListPromptsByRequestID returns prompts in insertion order.
	ListPromptsByRequestID(ctx context.Context, requestID string) ([]models.Prompt, error)
	// ListPrompts returns every prompt, newest first.
	ListPrompts(ctx context.Context) ([]models.Prompt, error)
	PendingSummaryExists(ctx context.Context, conversationID string) (bool, error)
	// AssignRequestID moves the listed unsubmitted prompts onto requestID and
	// reports how many rows changed.
	AssignRequestID(ctx context.Context, customIDs []string, requestID string) (int64, error)
	DeletePrompt(ctx context.Context, customID string) error
}

type BatchRequests interface {
	InsertBatchRequest(ctx context.Context, req models.BatchRequest) error
	GetBatchRequest(ctx context.Context, id string) (models.BatchRequest, error)
	UpdateBatchRequest(ctx context.Context, req models.BatchRequest) error
	ListBatchRequestsByStatus(ctx context.Context, status string) ([]models.BatchRequest, error)
	ListOpenBatchRequests(ctx context.Context) ([]models.BatchRequest, error)
	// ListBatchRequestsSince returns requests created at or after since, newest first.
	ListBatchRequestsSince(ctx context.Context, since time.Time) ([]models.BatchRequest, error)
}

type Conversations interface {
	CreateConversation(ctx context.Context, conv models.Conversation) error
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	SaveConversation(ctx context.Context, conv models.Conversation) error
	// UpdateConversationMessages drops remove from the message list and
	// appends add in one step, returning the updated conversation.
	UpdateConversationMessages(ctx context.Context, id string, remove, add []string, at time.Time) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

type Messages interface {
	CreateMessage(ctx context.Context, msg models.Message) error
	GetMessage(ctx context.Context, id string) (models.Message, error)
	// ListMessagesByIDs returns the messages that exist, keyed by id.
	ListMessagesByIDs(ctx context.Context, ids []string) (map[string]models.Message, error)
	UpdateMessage(ctx context.Context, msg models.Message) error
	DeleteMessage(ctx context.Context, id string) error
}

type PendingRequests interface {
	CreatePendingRequest(ctx context.Context, req models.PendingRequest) error
	GetPendingRequest(ctx context.Context, responseID string) (models.PendingRequest, error)
	// DeletePendingRequest reports whether a row was removed.
	DeletePendingRequest(ctx context.Context, responseID string) (bool, error)
}

type Knowledge interface {
	UpsertKnowledge(ctx context.Context, k models.Knowledge) error
	ListKnowledgeByIDs(ctx context.Context, ids []string) (map[string]models.Knowledge, error)
}

type ModelCards interface {
	UpsertModelCard(ctx context.Context, card models.ModelCard) error
	ListModelCards(ctx context.Context) ([]models.ModelCard, error)
}

// Store aggregates every repository the services depend on.
type Store interface {
	Prompts
	BatchRequests
	Conversations
	Messages
	PendingRequests
	Knowledge
	ModelCards
	Ping(ctx context.Context) error
}
