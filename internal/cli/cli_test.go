package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/providers"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
)

type fakeBatches struct {
	added   []batches.AddPromptParams
	deleted []string
	trigger batches.TriggerResult
	queue   batches.Queue
}

func (f *fakeBatches) AddPromptToBatch(_ context.Context, p batches.AddPromptParams) (batches.AddResult, error) {
	f.added = append(f.added, p)
	return batches.AddResult{Status: batches.AddQueued, CustomID: "prompt-1", ConversationID: "conv-1"}, nil
}

func (f *fakeBatches) TriggerBatchRequest(context.Context) batches.TriggerResult { return f.trigger }

func (f *fakeBatches) CheckBatchStatus(_ context.Context, id string) (models.BatchRequest, error) {
	return models.BatchRequest{ID: id, Status: models.BatchStatusCompleted, RequestCountsTotal: 2, RequestCountsCompleted: 2}, nil
}

func (f *fakeBatches) RefreshOpenBatches(context.Context) ([]models.BatchRequest, error) {
	return []models.BatchRequest{{ID: "batch_1", Status: models.BatchStatusInProgress}}, errors.New("batch_2: boom")
}

func (f *fakeBatches) ProcessBatchResponses(context.Context) (batches.ProcessResult, error) {
	return batches.ProcessResult{
		Requests:      []string{"batch_1"},
		Prompts:       []string{"prompt-1", "prompt-2"},
		Conversations: []batches.ConversationUpdate{{ConversationID: "conv-1", Title: "Trip", Messages: make([]models.Message, 1)}},
	}, nil
}

func (f *fakeBatches) ListQueue(context.Context) (batches.Queue, error) { return f.queue, nil }

func (f *fakeBatches) DeletePrompt(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeChat struct{ got models.ChatRequest }

func (f *fakeChat) Chat(_ context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	f.got = req
	return models.ChatResponse{Model: req.Model, Content: "pong", Usage: models.Usage{PromptTokens: 3, CompletionTokens: 1}}, nil
}

type fakeCatalog map[string]models.ModelCard

func (c fakeCatalog) Resolve(model string) (models.ModelCard, bool) {
	card, ok := c[model]
	return card, ok
}

type fakeProviders struct{ chat *fakeChat }

func (p fakeProviders) Chat(name string) (providers.ChatCompletions, error) {
	if name != models.ProviderAnthropic {
		return nil, providers.ErrUnknownProvider
	}
	return p.chat, nil
}

func run(t *testing.T, env *Env, args ...string) (string, error) {
	t.Helper()
	var gotOpts config.Options
	loader := func(_ context.Context, opts config.Options) (*Env, error) {
		gotOpts = opts
		return env, nil
	}
	var out bytes.Buffer
	cmd := NewRootCommand(loader, &out)
	cmd.SetArgs(append([]string{"--config", "lifehub.yaml"}, args...))
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		require.Equal(t, "lifehub.yaml", gotOpts.ConfigFile)
	}
	return out.String(), err
}

func TestAddPassesFlags(t *testing.T) {
	fb := &fakeBatches{}
	out, err := run(t, &Env{Batches: fb}, "add", "--user", "alice", "--model", "gpt-4.1", "--tags", "a,b", "--image", "x.png", "what", "is", "this")
	require.NoError(t, err)
	require.Equal(t, "queued prompt-1 conv-1\n", out)

	require.Len(t, fb.added, 1)
	got := fb.added[0]
	require.Equal(t, "what is this", got.Prompt)
	require.Equal(t, "alice", got.UserID)
	require.Equal(t, models.RequestIDNew, got.ConversationID)
	require.Equal(t, "a,b", got.Parameters.Tags)
	require.Equal(t, []string{"x.png"}, got.ImagePaths)
}

func TestAddRequiresUserAndModel(t *testing.T) {
	_, err := run(t, &Env{Batches: &fakeBatches{}}, "add", "hello")
	require.Error(t, err)
}

func TestTriggerReportsFailure(t *testing.T) {
	fb := &fakeBatches{trigger: batches.TriggerResult{Status: batches.TriggerFailed, Err: errors.New("provider down")}}
	out, err := run(t, &Env{Batches: fb}, "trigger")
	require.ErrorContains(t, err, "provider down")
	require.Contains(t, out, "failed: 0 prompt(s)")
}

func TestTriggerListsCreatedBatches(t *testing.T) {
	fb := &fakeBatches{trigger: batches.TriggerResult{
		Status:   batches.TriggerSubmitted,
		IDs:      []string{"prompt-1"},
		Requests: []models.BatchRequest{{ID: "batch_1", Provider: models.ProviderOpenAI, Model: "gpt-4.1-2025-04-14", RequestCountsTotal: 1}},
	}}
	out, err := run(t, &Env{Batches: fb}, "trigger")
	require.NoError(t, err)
	require.Contains(t, out, "submitted: 1 prompt(s)")
	require.Contains(t, out, "batch_1 OpenAI gpt-4.1-2025-04-14 (1)")
}

func TestListPrintsPromptsAndBatches(t *testing.T) {
	fb := &fakeBatches{queue: batches.Queue{
		Prompts:  []models.Prompt{{CustomID: "prompt-1", RequestID: models.RequestIDNew, Model: "gpt-4.1-2025-04-14", ConversationID: "conv-1", Title: "Trip"}},
		Requests: []models.BatchRequest{{ID: "batch_1", Provider: models.ProviderOpenAI, Status: models.BatchStatusInProgress, RequestCountsTotal: 3, CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}},
	}}
	out, err := run(t, &Env{Batches: fb}, "list")
	require.NoError(t, err)
	require.Contains(t, out, "prompt-1")
	require.Contains(t, out, "0/0/3")
	require.Contains(t, out, "2025-06-01T10:00:00Z")
}

func TestRefreshPrintsPartialResultsAndError(t *testing.T) {
	out, err := run(t, &Env{Batches: &fakeBatches{}}, "refresh")
	require.ErrorContains(t, err, "boom")
	require.Contains(t, out, "batch_1 "+models.BatchStatusInProgress)
}

func TestProcessAndCheck(t *testing.T) {
	out, err := run(t, &Env{Batches: &fakeBatches{}}, "process")
	require.NoError(t, err)
	require.Contains(t, out, "processed 1 batch(es), 2 prompt(s)")
	require.Contains(t, out, `conv-1 "Trip" +1 message(s)`)

	out, err = run(t, &Env{Batches: &fakeBatches{}}, "check", "batch_9")
	require.NoError(t, err)
	require.Equal(t, "batch_9 "+models.BatchStatusCompleted+" 2/0/2\n", out)
}

func TestDeletePrompt(t *testing.T) {
	fb := &fakeBatches{}
	out, err := run(t, &Env{Batches: fb}, "delete-prompt", "prompt-7")
	require.NoError(t, err)
	require.Equal(t, "deleted prompt-7\n", out)
	require.Equal(t, []string{"prompt-7"}, fb.deleted)
}

func TestAskUsesResolvedCard(t *testing.T) {
	chat := &fakeChat{}
	env := &Env{
		Catalog:   fakeCatalog{"sonnet": {APIModel: "claude-sonnet-4-20250514", Provider: models.ProviderAnthropic, MaxOutTokens: 512}},
		Providers: fakeProviders{chat: chat},
	}
	out, err := run(t, env, "ask", "--model", "sonnet", "ping")
	require.NoError(t, err)
	require.Equal(t, "pong\n[claude-sonnet-4-20250514 3+1 tokens]\n", out)
	require.Equal(t, "claude-sonnet-4-20250514", chat.got.Model)
	require.Equal(t, int32(512), *chat.got.MaxTokens)

	_, err = run(t, env, "ask", "--model", "missing", "ping")
	require.ErrorContains(t, err, `unknown model "missing"`)
}
