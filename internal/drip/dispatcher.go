package drip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-nurture/internal/observability/metrics"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

const (
	defaultDispatchWorkers  = 1
	defaultDispatchInterval = 30 * time.Second
	defaultDispatchBatch    = 50
)

// Message is a rendered drip ready for transport.
type Message struct {
	DripID    string
	OrgID     string
	SessionID string
	ContactID string
	StepID    string
	Body      string
}

// Sender delivers a drip and returns the provider's delivery id.
type Sender interface {
	SendDrip(ctx context.Context, msg Message) (string, error)
}

// TemplateData supplies placeholder values for a drip's message.
type TemplateData interface {
	DripData(ctx context.Context, d PendingDrip) (map[string]any, error)
}

type renderer interface {
	Render(name, tmpl string, data any) (string, error)
}

// DispatcherOption customizes dispatcher behavior.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the number of concurrent polling goroutines.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithTemplates renders "{{...}}" placeholders in drip text before sending.
func WithTemplates(r renderer, data TemplateData) DispatcherOption {
	return func(d *Dispatcher) {
		d.renderer = r
		d.data = data
	}
}

func WithDispatchMetrics(m *metrics.EngineMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithDispatchClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// Dispatcher polls for due drips, claims each one and hands it to a Sender.
// Sending never advances the session.
type Dispatcher struct {
	scheduler *Scheduler
	sender    Sender
	renderer  renderer
	data      TemplateData
	workers   int
	interval  time.Duration
	batchSize int
	clock     func() time.Time
	metrics   *metrics.EngineMetrics
	logger    *logging.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(scheduler *Scheduler, sender Sender, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if scheduler == nil {
		panic("drip: scheduler required")
	}
	if sender == nil {
		panic("drip: sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		scheduler: scheduler,
		sender:    sender,
		workers:   defaultDispatchWorkers,
		interval:  defaultDispatchInterval,
		batchSize: defaultDispatchBatch,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the polling goroutines. They stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i+1)
	}
}

// Wait blocks until all dispatcher goroutines exit.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()
	d.logger.Debug("drip dispatcher started", "worker_id", workerID)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("drip dispatcher: pass failed", "error", err, "worker_id", workerID)
		}
		select {
		case <-ctx.Done():
			d.logger.Debug("drip dispatcher stopping", "worker_id", workerID)
			return
		case <-ticker.C:
		}
	}
}

// DispatchDue runs one pass over due drips and returns how many were sent.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.clock()
	due, err := d.scheduler.DueDrips(ctx, now, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("drip dispatcher: list due: %w", err)
	}
	sent := 0
	for _, pd := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if d.dispatchOne(ctx, pd, now) {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, pd PendingDrip, now time.Time) bool {
	claim := uuid.NewString()
	if err := d.scheduler.ClaimSent(ctx, pd.ID, claim); err != nil {
		if errors.Is(err, ErrStaleDripClaim) || errors.Is(err, ErrDripNotFound) {
			d.metrics.ObserveDrips("stale_claim", 1)
			d.logger.Debug("drip dispatcher: stale claim", "drip_id", pd.ID, "session_id", pd.SessionID, "error", err)
			return false
		}
		d.logger.Error("drip dispatcher: claim failed", "drip_id", pd.ID, "error", err)
		return false
	}

	body, err := d.render(ctx, pd)
	if err != nil {
		d.fail(ctx, pd, claim, "render: "+err.Error())
		return false
	}

	deliveryID, err := d.sender.SendDrip(ctx, Message{
		DripID:    pd.ID,
		OrgID:     pd.OrgID,
		SessionID: pd.SessionID,
		ContactID: pd.ContactID,
		StepID:    pd.StepID,
		Body:      body,
	})
	if err != nil {
		d.fail(ctx, pd, claim, "send: "+err.Error())
		return false
	}
	if deliveryID != "" {
		if err := d.scheduler.Queue().RecordDeliveryID(ctx, pd.ID, deliveryID); err != nil {
			d.logger.Warn("drip dispatcher: record delivery id failed", "drip_id", pd.ID, "error", err)
		}
	}
	d.metrics.ObserveDrips("sent", 1)
	d.metrics.ObserveDispatchLag(now.Sub(pd.ScheduledFor).Seconds())
	d.logger.Info("drip dispatcher: drip sent",
		"drip_id", pd.ID, "session_id", pd.SessionID, "step_id", pd.StepID, "delivery_id", deliveryID)
	return true
}

func (d *Dispatcher) render(ctx context.Context, pd PendingDrip) (string, error) {
	if d.renderer == nil || d.data == nil || !strings.Contains(pd.Message, "{{") {
		return pd.Message, nil
	}
	data, err := d.data.DripData(ctx, pd)
	if err != nil {
		return "", err
	}
	return d.renderer.Render(pd.StepID, pd.Message, data)
}

func (d *Dispatcher) fail(ctx context.Context, pd PendingDrip, claim, reason string) {
	d.metrics.ObserveDrips("failed", 1)
	d.logger.Warn("drip dispatcher: drip failed", "drip_id", pd.ID, "session_id", pd.SessionID, "reason", reason)
	if err := d.scheduler.FailClaimed(ctx, pd.ID, claim, reason); err != nil {
		d.logger.Error("drip dispatcher: mark failed", "drip_id", pd.ID, "error", err)
	}
}
