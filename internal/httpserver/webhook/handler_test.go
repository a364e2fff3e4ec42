package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/cache"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/realtime"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/conversations"
)

const testSecret = "whsec_c2VjcmV0LWtleS1mb3ItdGVzdHM="

type recorder struct {
	mu       sync.Mutex
	calls    []string
	failNext bool
}

func (r *recorder) add(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if r.failNext {
		r.failNext = false
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) CheckBatchStatus(_ context.Context, id string) (models.BatchRequest, error) {
	return models.BatchRequest{ID: id}, r.add("check:" + id)
}

func (r *recorder) ProcessBatchResponses(context.Context) (batches.ProcessResult, error) {
	return batches.ProcessResult{}, r.add("process")
}

func (r *recorder) ProcessCompletedResponse(_ context.Context, id string) (*conversations.Resolution, error) {
	if err := r.add("completed:" + id); err != nil {
		return nil, err
	}
	return &conversations.Resolution{
		Conversation:  models.Conversation{ID: "conv-1", UserID: "alice", Title: "Plans", Members: []string{"bob"}},
		Messages:      []models.Message{{ID: "msg-2", Response: "done"}},
		PlaceholderID: "msg-1",
	}, nil
}

func (r *recorder) ProcessFailedResponse(_ context.Context, id string) (*conversations.Resolution, error) {
	return nil, r.add("failed:" + id)
}

type published struct {
	room, event string
}

type capture struct {
	mu     sync.Mutex
	events []published
}

func (c *capture) Publish(_ context.Context, room, event string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, published{room, event})
	return nil
}

type harness struct {
	app     *fiber.App
	handler *Handler
	rec     *recorder
	pub     *capture
	now     time.Time
}

func newHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	verifier := NewVerifier(testSecret, 5*time.Minute)
	now := time.Unix(1750000000, 0)
	verifier.now = func() time.Time { return now }

	rec := &recorder{}
	pub := &capture{}
	h := NewHandler(Deps{
		Verifier:  verifier,
		Batches:   rec,
		Responses: rec,
		Dedupe:    cache.NewIdempotencyCache(client, "webhook", time.Hour),
		Realtime:  pub,
	})
	app := fiber.New()
	h.Register(app)
	return harness{app: app, handler: h, rec: rec, pub: pub, now: now}
}

func (h harness) post(t *testing.T, id, body string, signed bool) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/openai", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("webhook-id", id)
	req.Header.Set("webhook-timestamp", strconv.FormatInt(h.now.Unix(), 10))
	sig := "v1,bm9wZQ=="
	if signed {
		sig = "v1," + signature(t, id, h.now.Unix(), body)
	}
	req.Header.Set("webhook-signature", sig)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// signature signs a delivery the way OpenAI does: HMAC-SHA256 over
// "id.timestamp.body" keyed with the decoded whsec_ secret.
func signature(t *testing.T, id string, timestamp int64, body string) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(testSecret, "whsec_"))
	require.NoError(t, err)
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%d.%s", id, timestamp, body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedHeaders(t *testing.T, id string, timestamp int64, sig string) http.Header {
	t.Helper()
	h := http.Header{}
	h.Set("webhook-id", id)
	h.Set("webhook-timestamp", strconv.FormatInt(timestamp, 10))
	h.Set("webhook-signature", sig)
	return h
}

func event(kind, id string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"created_at":1750000000,"data":{"id":%q}}`, kind, id)
}

func TestRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusBadRequest, h.post(t, "wh_1", event("batch.completed", "batch_1"), false))
	h.handler.Wait()
	require.Empty(t, h.rec.snapshot())
}

func TestMalformedPayloadIs500(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusInternalServerError, h.post(t, "wh_1", `{"nope":`, true))
}

func TestBatchCompletedChecksThenProcesses(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.post(t, "wh_1", event("batch.completed", "batch_1"), true))
	h.handler.Wait()
	require.Equal(t, []string{"check:batch_1", "process"}, h.rec.snapshot())
}

func TestResponseCompletedPushesRealtime(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.post(t, "wh_1", event("response.completed", "resp_1"), true))
	h.handler.Wait()

	require.Equal(t, []string{"completed:resp_1"}, h.rec.snapshot())
	require.Equal(t, []published{
		{realtime.ConversationRoom("conv-1"), realtime.EventChatMessages},
		{realtime.UserRoom("alice"), realtime.EventChatNotice},
		{realtime.UserRoom("bob"), realtime.EventChatNotice},
	}, h.pub.events)
}

func TestResponseFailedUsesFailurePath(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.post(t, "wh_1", event("response.failed", "resp_9"), true))
	h.handler.Wait()
	require.Equal(t, []string{"failed:resp_9"}, h.rec.snapshot())
	require.Empty(t, h.pub.events)
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	h := newHarness(t)
	body := event("batch.failed", "batch_2")
	require.Equal(t, http.StatusOK, h.post(t, "wh_dup", body, true))
	require.Equal(t, http.StatusOK, h.post(t, "wh_dup", body, true))
	h.handler.Wait()
	require.Equal(t, []string{"check:batch_2"}, h.rec.snapshot())
}

func TestFailedProcessingReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.rec.failNext = true
	body := event("batch.expired", "batch_3")
	require.Equal(t, http.StatusOK, h.post(t, "wh_retry", body, true))
	h.handler.Wait()
	require.Equal(t, http.StatusOK, h.post(t, "wh_retry", body, true))
	h.handler.Wait()
	require.Equal(t, []string{"check:batch_3", "check:batch_3"}, h.rec.snapshot())
}

func TestVideoAndUnknownEventsAreAcknowledged(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.post(t, "wh_1", event("video.completed", "video_1"), true))
	require.Equal(t, http.StatusOK, h.post(t, "wh_2", event("fine_tuning.job.succeeded", "ftjob_1"), true))
	h.handler.Wait()
	require.Empty(t, h.rec.snapshot())
}

func TestVerifierRejectsStaleTimestamp(t *testing.T) {
	v := NewVerifier(testSecret, time.Minute)
	now := time.Unix(1750000000, 0)
	v.now = func() time.Time { return now }

	body := event("batch.completed", "batch_1")
	stale := now.Add(-2 * time.Minute).Unix()
	_, err := v.Unwrap([]byte(body), signedHeaders(t, "wh_1", stale, "v1,"+signature(t, "wh_1", stale, body)))
	require.ErrorIs(t, err, ErrInvalidSignature)

	fresh := "v1," + signature(t, "wh_1", now.Unix(), body)
	ev, err := v.Unwrap([]byte(body), signedHeaders(t, "wh_1", now.Unix(), "v1,b3RoZXI= "+fresh))
	require.NoError(t, err)
	require.Equal(t, "batch.completed", ev.Type)
	require.Equal(t, "batch_1", ev.Data.ID)
}

func TestVerifierWithoutSecretIsNotConfigured(t *testing.T) {
	v := NewVerifier("", 0)
	_, err := v.Unwrap([]byte(`{}`), signedHeaders(t, "a", 1, "v1,x"))
	require.ErrorIs(t, err, ErrNoSecret)
	require.NotErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifierRejectsEventWithoutType(t *testing.T) {
	v := NewVerifier(testSecret, time.Minute)
	now := time.Unix(1750000000, 0)
	v.now = func() time.Time { return now }

	body := `{"id":"evt_1","data":{"id":"x"}}`
	_, err := v.Unwrap([]byte(body), signedHeaders(t, "wh_1", now.Unix(), "v1,"+signature(t, "wh_1", now.Unix(), body)))
	require.ErrorIs(t, err, ErrMalformedEvent)
}
