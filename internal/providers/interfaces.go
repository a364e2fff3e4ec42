package providers

import (
	"context"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

type ChatCompletions interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

// BatchProvider is implemented by every vendor that accepts asynchronous
// batch jobs.
type BatchProvider interface {
	Name() string
	SubmitBatch(ctx context.Context, model string, items []models.BatchItem) (models.BatchRequest, error)
	CheckStatus(ctx context.Context, batch models.BatchRequest) (models.BatchStatus, error)
	FetchResults(ctx context.Context, batch models.BatchRequest) ([]models.BatchResult, error)
	DeleteArtifacts(ctx context.Context, batch models.BatchRequest) error
}

// BackgroundResponder starts single-shot asynchronous responses whose
// completion arrives by webhook.
type BackgroundResponder interface {
	CreateBackgroundResponse(ctx context.Context, req models.ChatRequest) (string, error)
	GetResponse(ctx context.Context, responseID string) (models.ChatResponse, error)
}
