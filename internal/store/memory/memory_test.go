package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store"
)

func newPrompt(id, conv, prompt string) models.Prompt {
	return models.Prompt{
		CustomID:       id,
		ConversationID: conv,
		RequestID:      models.RequestIDNew,
		Prompt:         prompt,
		Model:          "gpt-4.1-2025-04-14",
	}
}

func TestPromptsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"p3", "p1", "p2"} {
		require.NoError(t, s.InsertPrompt(ctx, newPrompt(id, "c1", "hi")))
	}

	pending, err := s.ListPromptsByRequestID(ctx, models.RequestIDNew)
	require.NoError(t, err)
	require.Equal(t, []string{"p3", "p1", "p2"}, customIDs(pending))

	all, err := s.ListPrompts(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p1", "p3"}, customIDs(all))
}

func TestInsertPromptRejectsSecondPendingSummary(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertPrompt(ctx, newPrompt("s1", "c1", models.SummaryPrompt)))
	require.ErrorIs(t, s.InsertPrompt(ctx, newPrompt("s2", "c1", models.SummaryPrompt)), store.ErrConflict)
	require.NoError(t, s.InsertPrompt(ctx, newPrompt("s3", "c2", models.SummaryPrompt)))

	exists, err := s.PendingSummaryExists(ctx, "c1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestAssignRequestIDOnlyTouchesListedPendingPrompts(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertPrompt(ctx, newPrompt("a", "c1", "x")))
	require.NoError(t, s.InsertPrompt(ctx, newPrompt("b", "c1", "y")))
	submitted := newPrompt("c", "c1", "z")
	submitted.RequestID = "batch_old"
	require.NoError(t, s.InsertPrompt(ctx, submitted))

	changed, err := s.AssignRequestID(ctx, []string{"a", "c", "missing"}, "batch_new")
	require.NoError(t, err)
	require.Equal(t, int64(1), changed)

	a, _ := s.GetPrompt(ctx, "a")
	b, _ := s.GetPrompt(ctx, "b")
	c, _ := s.GetPrompt(ctx, "c")
	require.Equal(t, "batch_new", a.RequestID)
	require.Equal(t, models.RequestIDNew, b.RequestID)
	require.Equal(t, "batch_old", c.RequestID)
}

func TestConversationCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	conv := models.Conversation{ID: "c1", Messages: []string{"m1"}}
	require.NoError(t, s.CreateConversation(ctx, conv))

	conv.Messages[0] = "mutated"
	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, got.Messages)

	got.Messages = append(got.Messages, "m2")
	again, _ := s.GetConversation(ctx, "c1")
	require.Len(t, again.Messages, 1)

	require.NoError(t, s.DeleteConversation(ctx, "c1"))
	_, err = s.GetConversation(ctx, "c1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPendingRequestDeleteIsReportedOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	req := models.PendingRequest{ResponseID: "resp_1", ConversationID: "c1", PlaceholderID: "m1"}
	require.NoError(t, s.CreatePendingRequest(ctx, req))
	require.ErrorIs(t, s.CreatePendingRequest(ctx, req), store.ErrConflict)

	deleted, err := s.DeletePendingRequest(ctx, "resp_1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.DeletePendingRequest(ctx, "resp_1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestBatchRequestListings(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	require.NoError(t, s.InsertBatchRequest(ctx, models.BatchRequest{ID: "old", Provider: models.ProviderOpenAI, Status: models.BatchStatusDone, CreatedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, s.InsertBatchRequest(ctx, models.BatchRequest{ID: "run", Provider: models.ProviderAnthropic, Status: models.BatchStatusInProgress, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.InsertBatchRequest(ctx, models.BatchRequest{ID: "done", Provider: models.ProviderOpenAI, Status: models.BatchStatusCompleted, CreatedAt: now}))

	open, err := s.ListOpenBatchRequests(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "run", open[0].ID)

	completed, err := s.ListBatchRequestsByStatus(ctx, models.BatchStatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	recent, err := s.ListBatchRequestsSince(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "done", recent[0].ID)
	require.Equal(t, "run", recent[1].ID)
	require.Len(t, recent, 2)

	require.ErrorIs(t, s.UpdateBatchRequest(ctx, models.BatchRequest{ID: "ghost", Provider: models.ProviderOpenAI, Status: "x"}), store.ErrNotFound)
}

func TestWritesAreValidated(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.ErrorIs(t, s.InsertPrompt(ctx, models.Prompt{CustomID: "x"}), models.ErrInvalidEntity)
	require.ErrorIs(t, s.InsertBatchRequest(ctx, models.BatchRequest{ID: "b", Provider: "Mistral", Status: "x"}), models.ErrInvalidEntity)
}

func customIDs(prompts []models.Prompt) []string {
	out := make([]string, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, p.CustomID)
	}
	return out
}
