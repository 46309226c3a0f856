package drip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface. pgx.Tx satisfies it, so the helpers
// below can run inside a caller's transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DB that can open transactions, such as *pgxpool.Pool.
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

const dripColumns = `id, org_id, session_id, contact_id, step_id, sequence_index, message, scheduled_for, status,
	created_at, sent_at, failed_at, failure_reason, cancelled_at, delivery_id`

// PostgresQueue stores drips in the pending_drips table.
type PostgresQueue struct {
	db TxDB
}

func NewPostgresQueue(db TxDB) *PostgresQueue {
	if db == nil {
		panic("drip: db required")
	}
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) ReplacePending(ctx context.Context, sessionID string, drips []PendingDrip, at time.Time) (int, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("drip: replace pending: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cancelled, err := CancelPendingWith(ctx, tx, sessionID, at)
	if err != nil {
		return 0, err
	}
	if err := InsertWith(ctx, tx, drips); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("drip: replace pending: commit: %w", err)
	}
	return cancelled, nil
}

func (q *PostgresQueue) CancelPending(ctx context.Context, sessionID string, at time.Time) (int, error) {
	return CancelPendingWith(ctx, q.db, sessionID, at)
}

// CancelPendingWith cancels the session's Scheduled drips using q.
func CancelPendingWith(ctx context.Context, q DB, sessionID string, at time.Time) (int, error) {
	tag, err := q.Exec(ctx, `
		UPDATE pending_drips SET status = 'cancelled', cancelled_at = $1
		WHERE session_id = $2 AND status = 'scheduled'`, at, sessionID)
	if err != nil {
		return 0, fmt.Errorf("drip: cancel pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertWith stores new drips using q.
func InsertWith(ctx context.Context, q DB, drips []PendingDrip) error {
	for _, d := range drips {
		_, err := q.Exec(ctx, `
			INSERT INTO pending_drips (id, org_id, session_id, contact_id, step_id, sequence_index, message, scheduled_for, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			d.ID, d.OrgID, d.SessionID, d.ContactID, d.StepID, d.SequenceIndex, d.Message,
			d.ScheduledFor, string(d.Status), d.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("drip: insert %s: %w", d.ID, err)
		}
	}
	return nil
}

func (q *PostgresQueue) ListDue(ctx context.Context, asOf time.Time, limit int) ([]PendingDrip, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+dripColumns+`
		FROM pending_drips
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("drip: list due: %w", err)
	}
	defer rows.Close()
	return scanDrips(rows)
}

func (q *PostgresQueue) ListBySession(ctx context.Context, sessionID string) ([]PendingDrip, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+dripColumns+`
		FROM pending_drips
		WHERE session_id = $1
		ORDER BY created_at ASC, sequence_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("drip: list by session: %w", err)
	}
	defer rows.Close()
	return scanDrips(rows)
}

func (q *PostgresQueue) MarkSent(ctx context.Context, id string, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE pending_drips SET status = 'sent', sent_at = $1
		WHERE id = $2 AND status = 'scheduled'`, at, id)
	if err != nil {
		return fmt.Errorf("drip: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.missOrStale(ctx, "mark sent", id)
	}
	return nil
}

func (q *PostgresQueue) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE pending_drips SET status = 'failed', failed_at = $1, failure_reason = $2
		WHERE id = $3 AND status = 'scheduled'`, at, reason, id)
	if err != nil {
		return fmt.Errorf("drip: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.missOrStale(ctx, "mark failed", id)
	}
	return nil
}

func (q *PostgresQueue) ClaimSent(ctx context.Context, id, claim string, at time.Time) error {
	if claim == "" {
		return fmt.Errorf("drip: claim sent %s: claim token required", id)
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE pending_drips SET status = 'sent', sent_at = $1, claim_token = $2
		WHERE id = $3 AND status = 'scheduled'`, at, claim, id)
	if err != nil {
		return fmt.Errorf("drip: claim sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.missOrStale(ctx, "claim sent", id)
	}
	return nil
}

func (q *PostgresQueue) FailClaimed(ctx context.Context, id, claim, reason string, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE pending_drips SET status = 'failed', failed_at = $1, failure_reason = $2, claim_token = NULL
		WHERE id = $3 AND status = 'sent' AND claim_token = $4`, at, reason, id, claim)
	if err != nil {
		return fmt.Errorf("drip: fail claimed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return q.missOrStale(ctx, "fail claimed", id)
	}
	return nil
}

func (q *PostgresQueue) RecordDeliveryID(ctx context.Context, id, deliveryID string) error {
	tag, err := q.db.Exec(ctx, `UPDATE pending_drips SET delivery_id = $1 WHERE id = $2`, deliveryID, id)
	if err != nil {
		return fmt.Errorf("drip: record delivery id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("drip: record delivery id %s: %w", id, ErrDripNotFound)
	}
	return nil
}

// missOrStale distinguishes a missing drip from one whose status moved on.
func (q *PostgresQueue) missOrStale(ctx context.Context, op, id string) error {
	var status string
	err := q.db.QueryRow(ctx, `SELECT status FROM pending_drips WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("drip: %s %s: %w", op, id, ErrDripNotFound)
	}
	if err != nil {
		return fmt.Errorf("drip: %s: lookup status: %w", op, err)
	}
	return fmt.Errorf("drip: %s %s (status %s): %w", op, id, status, ErrStaleDripClaim)
}

func scanDrips(rows pgx.Rows) ([]PendingDrip, error) {
	var result []PendingDrip
	for rows.Next() {
		var d PendingDrip
		var status string
		var reason, deliveryID *string
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.SessionID, &d.ContactID, &d.StepID, &d.SequenceIndex, &d.Message,
			&d.ScheduledFor, &status, &d.CreatedAt, &d.SentAt, &d.FailedAt, &reason, &d.CancelledAt, &deliveryID,
		); err != nil {
			return nil, fmt.Errorf("drip: scan drip: %w", err)
		}
		d.Status = Status(status)
		if reason != nil {
			d.FailureReason = *reason
		}
		if deliveryID != nil {
			d.DeliveryID = *deliveryID
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
