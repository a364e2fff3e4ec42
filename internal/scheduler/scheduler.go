// Package scheduler runs the periodic batch jobs: the daily submission of
// queued prompts and the status poller that drains finished batches.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lentmiien/lentmiien-site-sub001/internal/config"
	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
	"github.com/lentmiien/lentmiien-site-sub001/internal/services/batches"
)

type Trigger interface {
	PendingConversationIDs(ctx context.Context) ([]string, error)
	TriggerBatchRequest(ctx context.Context) batches.TriggerResult
}

type Poller interface {
	RefreshOpenBatches(ctx context.Context) ([]models.BatchRequest, error)
	ProcessBatchResponses(ctx context.Context) (batches.ProcessResult, error)
}

// DailyTrigger submits the prompt queue once per day at a fixed local time.
type DailyTrigger struct {
	svc      Trigger
	hour     int
	minute   int
	loc      *time.Location
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	lastRun string
}

func NewDailyTrigger(svc Trigger, cfg config.SchedulerConfig, logger *slog.Logger) *DailyTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &DailyTrigger{
		svc:      svc,
		hour:     cfg.DailyHour,
		minute:   cfg.DailyMinute,
		loc:      cfg.Location(),
		interval: interval,
		logger:   logger.With(slog.String("component", "daily_trigger")),
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (d *DailyTrigger) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick fires the trigger when the daily time has passed and it has not yet
// run today. It reports whether a submission was attempted.
func (d *DailyTrigger) Tick(ctx context.Context) bool {
	if !d.running.CompareAndSwap(false, true) {
		return false
	}
	defer d.running.Store(false)
	if !d.due() {
		return false
	}

	pending, err := d.svc.PendingConversationIDs(ctx)
	if err != nil {
		d.logger.Error("scheduled trigger: count pending", slog.Any("error", err))
		return false
	}
	if len(pending) == 0 {
		d.logger.Debug("scheduled trigger skipped, nothing pending")
		return false
	}

	res := d.svc.TriggerBatchRequest(ctx)
	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Int("prompts", len(res.IDs)),
		slog.Int("requests", len(res.Requests)),
	}
	if res.Err != nil {
		d.logger.Error("scheduled trigger finished with errors", append(attrs, slog.Any("error", res.Err))...)
	} else {
		d.logger.Info("scheduled trigger executed", attrs...)
	}
	return true
}

// due marks today as run when the fire time has been reached. Callers hold
// the running flag.
func (d *DailyTrigger) due() bool {
	now := d.now().In(d.loc)
	fireAt := time.Date(now.Year(), now.Month(), now.Day(), d.hour, d.minute, 0, 0, d.loc)
	if now.Before(fireAt) {
		return false
	}
	day := now.Format(time.DateOnly)
	if d.lastRun == day {
		return false
	}
	d.lastRun = day
	return true
}

// StatusPoller refreshes open batches and drains completed ones.
type StatusPoller struct {
	svc      Poller
	interval time.Duration
	logger   *slog.Logger
	running  atomic.Bool
}

func NewStatusPoller(svc Poller, interval time.Duration, logger *slog.Logger) *StatusPoller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &StatusPoller{svc: svc, interval: interval, logger: logger.With(slog.String("component", "status_poller"))}
}

func (p *StatusPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one refresh-and-drain cycle. Overlapping calls return false.
func (p *StatusPoller) Poll(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		return false
	}
	defer p.running.Store(false)

	updated, err := p.svc.RefreshOpenBatches(ctx)
	if err != nil {
		p.logger.Warn("refresh open batches", slog.Any("error", err))
	}
	res, err := p.svc.ProcessBatchResponses(ctx)
	if err != nil {
		p.logger.Error("process batch responses", slog.Any("error", err))
		return true
	}
	if len(updated) > 0 || len(res.Requests) > 0 {
		p.logger.Info("batch poll finished",
			slog.Int("refreshed", len(updated)),
			slog.Int("drained", len(res.Requests)),
			slog.Int("prompts", len(res.Prompts)))
	}
	return true
}
