package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers/fixtures"
)

func TestBatchStatusFixture(t *testing.T) {
	var resp batchResponse
	require.NoError(t, fixtures.Load("anthropic_batch.json", &resp))

	status := convertBatch(resp)
	require.Equal(t, models.BatchStatusCompleted, status.Status)
	require.Equal(t, 5, status.Total)
	require.Equal(t, 3, status.Completed)
	require.Equal(t, 2, status.Failed)
	require.NotNil(t, status.CompletedAt)
	require.Equal(t, "https://api.anthropic.com/v1/messages/batches/msgbatch_01/results", status.OutputFileID)
}

func TestDecodeBatchResultsFixture(t *testing.T) {
	r, err := fixtures.Stream("anthropic_batch_results.jsonl")
	require.NoError(t, err)

	results, err := decodeBatchResults(r, "claude-fallback")
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, "Hello there", results[0].Content)
	require.Equal(t, "claude-sonnet-4-20250514", results[0].Model)
	require.Equal(t, int64(15), results[0].Usage.TotalTokens)
	require.Contains(t, results[1].Error, "max_tokens too large")
	require.Equal(t, "expired", results[2].Error)
}

func TestBuildMessageRequestFoldsSystemAndDeveloper(t *testing.T) {
	body := buildMessageRequest(models.ChatRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Text: "one"},
			{Role: models.RoleDeveloper, Text: "two"},
			{Role: models.RoleUser, Text: "look", Images: []models.ImageInput{{MediaType: "image/jpeg", Data: "AAAA"}}},
			{Role: models.RoleAssistant, Text: "seen"},
		},
	}, 2048)

	require.Equal(t, "one\ntwo", body.System)
	require.Equal(t, int32(2048), body.MaxTokens)
	require.Len(t, body.Messages, 2)
	require.Equal(t, "image", body.Messages[0].Content[0].Type)
	require.Equal(t, "base64", body.Messages[0].Content[0].Source.Type)
	require.Equal(t, "look", body.Messages[0].Content[1].Text)
	require.Equal(t, "assistant", body.Messages[1].Role)
}

func TestSubmitBatchPostsInlineRequests(t *testing.T) {
	var got batchCreateBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages/batches", r.URL.Path)
		require.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		require.Equal(t, defaultVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msgbatch_9","processing_status":"in_progress","request_counts":{"processing":2},"created_at":"2025-06-01T10:00:00Z"}`)
	}))
	defer srv.Close()

	adapter, err := New(Options{APIKey: "sk-ant", BaseURL: srv.URL})
	require.NoError(t, err)

	items := []models.BatchItem{
		{CustomID: "prompt-1", Request: models.ChatRequest{Model: "claude-sonnet-4-20250514", Messages: []models.ChatMessage{{Role: models.RoleUser, Text: "a"}}}},
		{CustomID: "prompt-2", Request: models.ChatRequest{Model: "claude-sonnet-4-20250514", Messages: []models.ChatMessage{{Role: models.RoleUser, Text: "b"}}}},
	}
	req, err := adapter.SubmitBatch(context.Background(), "claude-sonnet-4-20250514", items)
	require.NoError(t, err)

	require.Equal(t, "msgbatch_9", req.ID)
	require.Equal(t, models.ProviderAnthropic, req.Provider)
	require.Equal(t, models.BatchStatusInProgress, req.Status)
	require.Equal(t, 2, req.RequestCountsTotal)
	require.Len(t, got.Requests, 2)
	require.Equal(t, "prompt-2", got.Requests[1].CustomID)
}

func TestFetchResultsFallsBackToResultsPath(t *testing.T) {
	data, err := fixtures.Read("anthropic_batch_results.jsonl")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages/batches/msgbatch_01/results", r.URL.Path)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	adapter, err := New(Options{APIKey: "sk-ant", BaseURL: srv.URL})
	require.NoError(t, err)

	results, err := adapter.FetchResults(context.Background(), models.BatchRequest{ID: "msgbatch_01"})
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestAPIErrorsSurfaceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"not_found_error"}}`)
	}))
	defer srv.Close()

	adapter, err := New(Options{APIKey: "sk-ant", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = adapter.CheckStatus(context.Background(), models.BatchRequest{ID: "missing"})
	require.ErrorContains(t, err, "anthropic api error 404")
}

func TestDeleteArtifactsMakesNoRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter, err := New(Options{APIKey: "sk-ant", BaseURL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, adapter.DeleteArtifacts(context.Background(), models.BatchRequest{ID: "msgbatch_1"}))
	require.Zero(t, calls)
}
