package conversations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/messages"
	"github.com/lentmiien/lentmiien-site-sub001/internal/store/memory"
)

type fakeBackground struct {
	requests []models.ChatRequest
	answer   models.ChatResponse
	err      error
	// onGet runs while the response is being fetched
	onGet func()
}

func (f *fakeBackground) CreateBackgroundResponse(_ context.Context, req models.ChatRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "resp_1", nil
}

func (f *fakeBackground) GetResponse(_ context.Context, id string) (models.ChatResponse, error) {
	if f.onGet != nil {
		f.onGet()
	}
	return f.answer, nil
}

type fixture struct {
	store    *memory.Store
	messages *messages.Service
	svc      *Service
	bg       *fakeBackground
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	msgs := messages.NewService(st, nil, nil)
	bg := &fakeBackground{answer: models.ChatResponse{Content: "done"}}
	return fixture{
		store:    st,
		messages: msgs,
		bg:       bg,
		svc:      NewService(Deps{Store: st, Messages: msgs, Background: bg}),
	}
}

func (f fixture) conversation(t *testing.T, p Parameters, turns ...[2]string) models.Conversation {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for _, turn := range turns {
		msg, err := f.messages.Create(ctx, messages.CreateParams{UserID: "alice", Prompt: turn[0], Response: turn[1]})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	conv, err := f.svc.CreateConversationFromMessages(ctx, "alice", ids, p)
	require.NoError(t, err)
	return conv
}

func TestSplitTags(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, SplitTags(" a, b,,c ,a"))
	require.Nil(t, SplitTags(""))
}

func TestGenerateMessageArrayWithContextAndKnowledge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertKnowledge(ctx, models.Knowledge{ID: "k1", Title: "Diet", ContentMarkdown: "No sugar."}))

	conv := f.conversation(t, Parameters{
		Title:     "Food",
		Context:   "You are a coach.",
		Knowledge: []models.KnowledgeInject{{KnowledgeID: "k1", UseType: models.KnowledgeReference}, {KnowledgeID: "gone", UseType: models.KnowledgeExample}},
	}, [2]string{"hi", "hello"})

	out, ok, err := f.svc.GenerateMessageArrayForConversation(ctx, conv.ID, false, true, models.ContextDeveloper)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, out, 3)
	require.Equal(t, models.RoleDeveloper, out[0].Role)
	require.Equal(t, "You are a coach.\n\nUse as reference for guiding your answer:\n\n# Diet\n\nNo sugar.", out[0].Text)
	require.Equal(t, models.RoleUser, out[1].Role)
	require.Equal(t, "hello", out[2].Text)
}

func TestGenerateMessageArrayTruncatesAndSkipsContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, Parameters{Context: "ctx", MaxMessages: 1}, [2]string{"one", "1"}, [2]string{"two", "2"})

	out, ok, err := f.svc.GenerateMessageArrayForConversation(ctx, conv.ID, false, true, models.ContextNone)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, out, 2)
	require.Equal(t, "two", out[0].Text)
}

func TestGenerateMessageArrayForSummaryUsesFraming(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, Parameters{Context: "ctx"}, [2]string{"q", "a"})

	out, _, err := f.svc.GenerateMessageArrayForConversation(context.Background(), conv.ID, true, true, models.ContextSystem)
	require.NoError(t, err)
	require.Equal(t, summaryFraming, out[0].Text)
}

func TestGenerateMessageArrayMissingConversation(t *testing.T) {
	f := newFixture(t)
	out, ok, err := f.svc.GenerateMessageArrayForConversation(context.Background(), "nope", false, true, models.ContextSystem)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, out)
}

func TestCopyConversationKeepsRangeAndGroup(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, Parameters{Title: "orig", Tags: "x"}, [2]string{"1", "1"}, [2]string{"2", "2"}, [2]string{"3", "3"})

	cp, err := f.svc.CopyConversation(context.Background(), conv.ID, conv.Messages[1], conv.Messages[2])
	require.NoError(t, err)
	require.NotEqual(t, conv.ID, cp.ID)
	require.Equal(t, conv.GroupID, cp.GroupID)
	require.Equal(t, conv.Messages[1:], cp.Messages)

	open, err := f.svc.CopyConversation(context.Background(), conv.ID, "", "")
	require.NoError(t, err)
	require.Equal(t, conv.Messages, open.Messages)
}

func TestUpdateSummary(t *testing.T) {
	f := newFixture(t)
	conv, err := f.svc.CreateEmptyConversation(context.Background(), "alice", Parameters{Title: "t"})
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateSummary(context.Background(), conv.ID, "  short  "))

	got, err := f.svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, "short", got.Summary)
}

func TestBackgroundResponseRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, Parameters{Category: "health"}, [2]string{"earlier", "reply"})

	pending, err := f.svc.RequestBackgroundResponse(ctx, BackgroundParams{ConversationID: conv.ID, UserID: "alice", Prompt: "and now?", Model: "gpt-5"})
	require.NoError(t, err)
	require.Equal(t, "resp_1", pending.ResponseID)
	require.Len(t, f.bg.requests, 1)
	last := f.bg.requests[0].Messages[len(f.bg.requests[0].Messages)-1]
	require.Equal(t, "and now?", last.Text)

	withPlaceholder, err := f.svc.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, withPlaceholder.Messages, 2)

	res, err := f.svc.ProcessCompletedResponse(ctx, "resp_1")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.False(t, res.Failed)
	require.Equal(t, pending.PlaceholderID, res.PlaceholderID)
	require.Len(t, res.Conversation.Messages, 2)
	require.NotContains(t, res.Conversation.Messages, pending.PlaceholderID)
	require.Equal(t, "done", res.Messages[0].Response)
	require.Equal(t, "and now?", res.Messages[0].Prompt)
	require.Equal(t, "health", res.Messages[0].Category)

	_, err = f.messages.Get(ctx, pending.PlaceholderID)
	require.Error(t, err)

	again, err := f.svc.ProcessCompletedResponse(ctx, "resp_1")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestProcessFailedResponseWritesError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.conversation(t, Parameters{})

	_, err := f.svc.RequestBackgroundResponse(ctx, BackgroundParams{ConversationID: conv.ID, UserID: "alice", Prompt: "q", Model: "gpt-5"})
	require.NoError(t, err)

	res, err := f.svc.ProcessFailedResponse(ctx, "resp_1")
	require.NoError(t, err)
	require.True(t, res.Failed)
	require.Contains(t, res.Messages[0].Response, "Error: ")
}

func TestBackgroundRequestFailureRemovesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.bg.err = errors.New("boom")
	conv := f.conversation(t, Parameters{})

	_, err := f.svc.RequestBackgroundResponse(context.Background(), BackgroundParams{ConversationID: conv.ID, Prompt: "q"})
	require.Error(t, err)

	got, err := f.svc.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Empty(t, got.Messages)
}

func TestProcessCompletedForDeletedConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreatePendingRequest(ctx, models.PendingRequest{ResponseID: "r", ConversationID: "gone", PlaceholderID: "p"}))

	res, err := f.svc.ProcessCompletedResponse(ctx, "r")
	require.NoError(t, err)
	require.Nil(t, res)
	_, err = f.store.GetPendingRequest(ctx, "r")
	require.Error(t, err)
}
