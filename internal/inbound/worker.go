package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/medspa-nurture/internal/autotag"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/session"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Sessions is the part of the engine the worker drives.
type Sessions interface {
	StartSession(ctx context.Context, req engine.StartRequest) (*session.Session, bool, error)
	HandleReply(ctx context.Context, reply engine.Reply) (*engine.Result, error)
	BookAppointment(ctx context.Context, orgID, sessionID string, when time.Time) (*session.Session, error)
	FindOpenSession(ctx context.Context, orgID, contactID string) (*session.Session, error)
}

// Tagger runs auto-tagging rules for an event.
type Tagger interface {
	Process(ctx context.Context, ev autotag.Event) ([]autotag.TagMutation, error)
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	processed        ProcessedStore
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			seconds = 0
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithProcessedStore drops events whose id was already handled.
func WithProcessedStore(store ProcessedStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// Worker consumes events. The engine and the tagger are driven independently:
// a rejected session transition does not stop tagging.
type Worker struct {
	queue    Queue
	sessions Sessions
	tagger   Tagger
	cfg      workerConfig
	logger   *logging.Logger
	wg       sync.WaitGroup
}

// NewWorker builds a worker. queue may be nil when event bodies are fed
// through Handle by another runtime, such as a Lambda trigger.
func NewWorker(queue Queue, sessions Sessions, tagger Tagger, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if sessions == nil {
		panic("inbound: sessions required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{queue: queue, sessions: sessions, tagger: tagger, cfg: cfg, logger: logger}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.queue == nil {
		panic("inbound: Start requires a queue")
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("inbound worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("inbound worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive inbound events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage processes one queue message. The message is deleted unless a
// retryable failure occurred, in which case the queue redelivers it.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) {
	if err := w.Handle(ctx, msg.Body); err != nil {
		return
	}
	w.deleteMessage(ctx, msg.ReceiptHandle)
}

// Handle decodes and processes one event body. Undecodable and invalid events
// are logged and dropped; the returned error means the body should be
// redelivered.
func (w *Worker) Handle(ctx context.Context, body string) error {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		w.logger.Error("failed to decode inbound event", "error", err)
		return nil
	}
	if err := ev.validate(); err != nil {
		w.logger.Error("dropping invalid inbound event", "error", err)
		return nil
	}
	if err := w.Process(ctx, ev); err != nil {
		w.logger.Warn("inbound event will be retried", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return err
	}
	return nil
}

// Processing phases recorded in the ProcessedStore.
const (
	phaseSession = "inbound.session"
	phaseTags    = "inbound.tags"
)

// Process routes ev to the engine and then the tagger. It returns an error
// only for failures worth retrying. Each phase is claimed in the processed
// store before it runs and released if it fails, so a redelivery repeats only
// the phase that did not complete.
func (w *Worker) Process(ctx context.Context, ev Event) error {
	logger := w.logger.With("event_id", ev.ID, "kind", ev.Kind, "org_id", ev.OrgID, "contact_id", ev.ContactID)

	var sessionID string
	run, err := w.claim(ctx, phaseSession, ev.ID)
	if err != nil {
		return err
	}
	if run {
		var engineErr error
		sessionID, engineErr = w.applySession(ctx, ev, logger)
		if engineErr != nil && !retryable(engineErr) {
			logger.Warn("inbound: session update rejected", "error", engineErr)
			engineErr = nil
		}
		if engineErr != nil {
			w.release(ctx, phaseSession, ev.ID, logger)
			return engineErr
		}
	} else if sessionID, err = w.knownSession(ctx, ev); err != nil {
		return err
	}

	if w.tagger == nil {
		return nil
	}
	run, err = w.claim(ctx, phaseTags, ev.ID)
	if err != nil || !run {
		return err
	}
	var tagErr error
	for _, tev := range tagEvents(ev, sessionID) {
		if _, err := w.tagger.Process(ctx, tev); err != nil {
			logger.Error("inbound: auto-tagging failed", "trigger", tev.Type, "error", err)
			tagErr = errors.Join(tagErr, err)
		}
	}
	if tagErr != nil {
		w.release(ctx, phaseTags, ev.ID, logger)
	}
	return tagErr
}

func (w *Worker) claim(ctx context.Context, phase, eventID string) (bool, error) {
	if w.cfg.processed == nil || eventID == "" {
		return true, nil
	}
	fresh, err := w.cfg.processed.MarkProcessed(ctx, phase, eventID)
	if err != nil {
		return false, err
	}
	if !fresh {
		w.logger.Debug("skipping duplicate inbound event", "event_id", eventID, "phase", phase)
	}
	return fresh, nil
}

func (w *Worker) release(ctx context.Context, phase, eventID string, logger *logging.Logger) {
	if w.cfg.processed == nil || eventID == "" {
		return
	}
	if err := w.cfg.processed.Release(context.WithoutCancel(ctx), phase, eventID); err != nil {
		logger.Error("inbound: failed to release processed claim; redelivery will be skipped", "phase", phase, "error", err)
	}
}

// knownSession finds the session an already-applied event touched.
func (w *Worker) knownSession(ctx context.Context, ev Event) (string, error) {
	switch ev.Kind {
	case KindLeadCreated, KindReply, KindAppointmentBooked:
		return w.resolveSession(ctx, ev)
	}
	return ev.SessionID, nil
}

// applySession performs the engine side of an event and returns the session
// it touched, if any.
func (w *Worker) applySession(ctx context.Context, ev Event, logger *logging.Logger) (string, error) {
	switch ev.Kind {
	case KindLeadCreated:
		if ev.FlowID == "" {
			return "", nil
		}
		s, created, err := w.sessions.StartSession(ctx, engine.StartRequest{OrgID: ev.OrgID, ContactID: ev.ContactID, FlowID: ev.FlowID})
		if err != nil {
			return "", err
		}
		logger.Info("inbound: lead enrolled", "session_id", s.ID, "created", created)
		return s.ID, nil

	case KindReply:
		sessionID, err := w.resolveSession(ctx, ev)
		if err != nil || sessionID == "" {
			return "", err
		}
		if ev.Label == "" {
			// Unclassified replies still feed the tagger.
			return sessionID, nil
		}
		res, err := w.sessions.HandleReply(ctx, engine.Reply{
			OrgID:        ev.OrgID,
			SessionID:    sessionID,
			Label:        ev.Label,
			Answers:      ev.Answers,
			DripOverride: ev.DripOverride,
		})
		if err != nil {
			return sessionID, err
		}
		logger.Info("inbound: reply applied", "session_id", sessionID, "step_id", res.Session.CurrentStepID,
			"status", res.Session.Status, "scheduled", len(res.Scheduled), "cancelled", res.Cancelled)
		return sessionID, nil

	case KindAppointmentBooked:
		sessionID, err := w.resolveSession(ctx, ev)
		if err != nil || sessionID == "" {
			return "", err
		}
		if _, err := w.sessions.BookAppointment(ctx, ev.OrgID, sessionID, *ev.AppointmentAt); err != nil {
			return sessionID, err
		}
		return sessionID, nil
	}
	return ev.SessionID, nil
}

func (w *Worker) resolveSession(ctx context.Context, ev Event) (string, error) {
	if ev.SessionID != "" {
		return ev.SessionID, nil
	}
	s, err := w.sessions.FindOpenSession(ctx, ev.OrgID, ev.ContactID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound event", "error", err)
	}
}

// retryable reports whether an engine error may succeed on redelivery.
// Domain rejections never will.
func retryable(err error) bool {
	switch {
	case errors.Is(err, session.ErrInvalidSessionTransition),
		errors.Is(err, session.ErrUnknownResponseLabel),
		errors.Is(err, session.ErrUnknownStep),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, flow.ErrFlowNotFound):
		return false
	}
	return true
}

func tagEvents(ev Event, sessionID string) []autotag.Event {
	at := ev.OccurredAt
	switch ev.Kind {
	case KindReply:
		return autotag.ReplyEvents(ev.OrgID, ev.ContactID, sessionID, ev.Text, ev.FirstReply, at)
	case KindLeadCreated:
		return []autotag.Event{{Type: autotag.TriggerLeadCreated, OrgID: ev.OrgID, ContactID: ev.ContactID, SessionID: sessionID, OccurredAt: at}}
	case KindAppointmentBooked:
		return []autotag.Event{{Type: autotag.TriggerAppointmentBooked, OrgID: ev.OrgID, ContactID: ev.ContactID, SessionID: sessionID, OccurredAt: at}}
	case KindMessageSent:
		return []autotag.Event{{Type: autotag.TriggerMessageSent, OrgID: ev.OrgID, ContactID: ev.ContactID, SessionID: sessionID, Text: ev.Text, OccurredAt: at}}
	case KindNoResponse:
		return []autotag.Event{{Type: autotag.TriggerNoResponseForDays, OrgID: ev.OrgID, ContactID: ev.ContactID, SessionID: sessionID, ElapsedDays: ev.ElapsedDays, OccurredAt: at}}
	}
	return nil
}
