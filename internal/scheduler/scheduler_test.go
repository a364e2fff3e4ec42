package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
)

type fakeTrigger struct {
	pending  []string
	triggers atomic.Int32
	block    chan struct{}
}

func (f *fakeTrigger) PendingConversationIDs(context.Context) ([]string, error) {
	return f.pending, nil
}

func (f *fakeTrigger) TriggerBatchRequest(context.Context) batches.TriggerResult {
	f.triggers.Add(1)
	if f.block != nil {
		<-f.block
	}
	return batches.TriggerResult{Status: batches.TriggerSubmitted}
}

func newTrigger(svc Trigger, at *time.Time) *DailyTrigger {
	d := NewDailyTrigger(svc, config.SchedulerConfig{DailyHour: 19, Timezone: "UTC"}, nil)
	d.now = func() time.Time { return *at }
	return d
}

func TestDailyTriggerFiresOncePerDay(t *testing.T) {
	svc := &fakeTrigger{pending: []string{"c1"}}
	now := time.Date(2025, 6, 1, 18, 59, 0, 0, time.UTC)
	d := newTrigger(svc, &now)
	ctx := context.Background()

	require.False(t, d.Tick(ctx))

	now = now.Add(time.Minute)
	require.True(t, d.Tick(ctx))
	now = now.Add(time.Minute)
	require.False(t, d.Tick(ctx))

	now = time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	require.True(t, d.Tick(ctx))
	require.Equal(t, int32(2), svc.triggers.Load())
}

func TestDailyTriggerSkipsWhenNothingPending(t *testing.T) {
	svc := &fakeTrigger{}
	now := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	d := newTrigger(svc, &now)

	require.False(t, d.Tick(context.Background()))
	require.Zero(t, svc.triggers.Load())
}

func TestDailyTriggerGuardsOverlap(t *testing.T) {
	svc := &fakeTrigger{pending: []string{"c1"}, block: make(chan struct{})}
	now := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	d := newTrigger(svc, &now)

	d.running.Store(true)
	require.False(t, d.Tick(context.Background()))
	require.Zero(t, svc.triggers.Load())
	close(svc.block)
}

type fakePoller struct {
	refreshErr error
	processed  atomic.Int32
}

func (f *fakePoller) RefreshOpenBatches(context.Context) ([]models.BatchRequest, error) {
	return []models.BatchRequest{{ID: "b1", Status: models.BatchStatusCompleted}}, f.refreshErr
}

func (f *fakePoller) ProcessBatchResponses(context.Context) (batches.ProcessResult, error) {
	f.processed.Add(1)
	return batches.ProcessResult{Requests: []string{"b1"}}, nil
}

func TestPollerDrainsEvenWhenRefreshFails(t *testing.T) {
	svc := &fakePoller{refreshErr: errors.New("provider down")}
	p := NewStatusPoller(svc, time.Minute, nil)

	require.True(t, p.Poll(context.Background()))
	require.Equal(t, int32(1), svc.processed.Load())
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	svc := &fakePoller{}
	p := NewStatusPoller(svc, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return svc.processed.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
