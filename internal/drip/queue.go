package drip

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Queue persists pending drips. MarkSent and MarkFailed are compare-and-set on
// status so concurrent dispatchers never double-send.
type Queue interface {
	// ReplacePending cancels every Scheduled drip of the session and stores drips
	// in one atomic step. It returns how many drips were cancelled.
	ReplacePending(ctx context.Context, sessionID string, drips []PendingDrip, at time.Time) (int, error)
	CancelPending(ctx context.Context, sessionID string, at time.Time) (int, error)
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]PendingDrip, error)
	ListBySession(ctx context.Context, sessionID string) ([]PendingDrip, error)
	// MarkSent moves a drip from Scheduled to Sent.
	MarkSent(ctx context.Context, id string, at time.Time) error
	// MarkFailed moves a drip from Scheduled to Failed.
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	// ClaimSent moves a drip from Scheduled to Sent under claim. Only the holder
	// of claim may later fail it through FailClaimed.
	ClaimSent(ctx context.Context, id, claim string, at time.Time) error
	// FailClaimed moves a drip claimed under claim from Sent to Failed.
	FailClaimed(ctx context.Context, id, claim, reason string, at time.Time) error
	RecordDeliveryID(ctx context.Context, id, deliveryID string) error
}

// MemoryQueue is an in-process Queue for tests and single-node deployments.
type MemoryQueue struct {
	mu     sync.Mutex
	drips  map[string]*PendingDrip
	claims map[string]string
	order  []string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{drips: make(map[string]*PendingDrip), claims: make(map[string]string)}
}

func (q *MemoryQueue) ReplacePending(_ context.Context, sessionID string, drips []PendingDrip, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, d := range drips {
		if d.ID == "" {
			return 0, fmt.Errorf("drip: replace pending: drip id required")
		}
		if _, exists := q.drips[d.ID]; exists {
			return 0, fmt.Errorf("drip: replace pending: duplicate id %s", d.ID)
		}
	}
	cancelled := q.cancelLocked(sessionID, at)
	for _, d := range drips {
		stored := d
		q.drips[d.ID] = &stored
		q.order = append(q.order, d.ID)
	}
	return cancelled, nil
}

func (q *MemoryQueue) CancelPending(_ context.Context, sessionID string, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelLocked(sessionID, at), nil
}

func (q *MemoryQueue) cancelLocked(sessionID string, at time.Time) int {
	n := 0
	for _, id := range q.order {
		d := q.drips[id]
		if d.SessionID != sessionID || d.Status != StatusScheduled {
			continue
		}
		cancelledAt := at
		d.Status = StatusCancelled
		d.CancelledAt = &cancelledAt
		n++
	}
	return n
}

func (q *MemoryQueue) ListDue(_ context.Context, asOf time.Time, limit int) ([]PendingDrip, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []PendingDrip
	for _, id := range q.order {
		d := q.drips[id]
		if d.Status == StatusScheduled && !d.ScheduledFor.After(asOf) {
			out = append(out, *d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) ListBySession(_ context.Context, sessionID string) ([]PendingDrip, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []PendingDrip
	for _, id := range q.order {
		if d := q.drips[id]; d.SessionID == sessionID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (q *MemoryQueue) MarkSent(_ context.Context, id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.markSentLocked("mark sent", id, "", at)
}

func (q *MemoryQueue) ClaimSent(_ context.Context, id, claim string, at time.Time) error {
	if claim == "" {
		return fmt.Errorf("drip: claim sent %s: claim token required", id)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.markSentLocked("claim sent", id, claim, at)
}

func (q *MemoryQueue) markSentLocked(op, id, claim string, at time.Time) error {
	d, ok := q.drips[id]
	if !ok {
		return fmt.Errorf("drip: %s %s: %w", op, id, ErrDripNotFound)
	}
	if d.Status != StatusScheduled {
		return fmt.Errorf("drip: %s %s (status %s): %w", op, id, d.Status, ErrStaleDripClaim)
	}
	sentAt := at
	d.Status = StatusSent
	d.SentAt = &sentAt
	if claim != "" {
		q.claims[id] = claim
	}
	return nil
}

func (q *MemoryQueue) MarkFailed(_ context.Context, id, reason string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.drips[id]
	if !ok {
		return fmt.Errorf("drip: mark failed %s: %w", id, ErrDripNotFound)
	}
	if d.Status != StatusScheduled {
		return fmt.Errorf("drip: mark failed %s (status %s): %w", id, d.Status, ErrStaleDripClaim)
	}
	failLocked(d, reason, at)
	return nil
}

func (q *MemoryQueue) FailClaimed(_ context.Context, id, claim, reason string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.drips[id]
	if !ok {
		return fmt.Errorf("drip: fail claimed %s: %w", id, ErrDripNotFound)
	}
	if d.Status != StatusSent || claim == "" || q.claims[id] != claim {
		return fmt.Errorf("drip: fail claimed %s (status %s): %w", id, d.Status, ErrStaleDripClaim)
	}
	delete(q.claims, id)
	failLocked(d, reason, at)
	return nil
}

func failLocked(d *PendingDrip, reason string, at time.Time) {
	failedAt := at
	d.Status = StatusFailed
	d.FailedAt = &failedAt
	d.FailureReason = reason
}

func (q *MemoryQueue) RecordDeliveryID(_ context.Context, id, deliveryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.drips[id]
	if !ok {
		return fmt.Errorf("drip: record delivery id %s: %w", id, ErrDripNotFound)
	}
	d.DeliveryID = deliveryID
	return nil
}
