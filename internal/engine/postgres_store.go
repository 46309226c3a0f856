package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/wolfman30/medspa-nurture/internal/drip"
	"github.com/wolfman30/medspa-nurture/internal/session"
)

const sessionColumns = `id, org_id, contact_id, flow_id, flow_version, status, started_at, last_activity_at, completed_at,
	current_step_id, answered_questions, questions_total, completion_percentage, appointment_booked,
	appointment_time, recovery_link_sent, version`

// PostgresStore keeps sessions in the sessions table and drips in pending_drips,
// writing both in one transaction.
type PostgresStore struct {
	db drip.TxDB
}

func NewPostgresStore(db drip.TxDB) *PostgresStore {
	if db == nil {
		panic("engine: db required")
	}
	return &PostgresStore{db: db}
}

func (p *PostgresStore) InsertSessionIfAbsent(ctx context.Context, s *session.Session, drips []drip.PendingDrip) (*session.Session, bool, error) {
	answers, err := json.Marshal(s.AnsweredQuestions)
	if err != nil {
		return nil, false, fmt.Errorf("engine: marshal answers: %w", err)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("engine: insert session: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// sessions_open_unique covers (org_id, contact_id, flow_id) WHERE status <> 'completed'.
	var insertedID string
	err = tx.QueryRow(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (org_id, contact_id, flow_id) WHERE status <> 'completed' DO NOTHING
		RETURNING id`,
		s.ID, s.OrgID, s.ContactID, s.FlowID, s.FlowVersion, string(s.Status), s.StartedAt, s.LastActivityAt,
		s.CompletedAt, s.CurrentStepID, answers, s.QuestionsTotal, s.CompletionPercentage,
		s.AppointmentBooked, s.AppointmentTime, s.RecoveryLinkSent, s.Version,
	).Scan(&insertedID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanSession(tx.QueryRow(ctx, `
			SELECT `+sessionColumns+`
			FROM sessions
			WHERE org_id = $1 AND contact_id = $2 AND flow_id = $3 AND status <> 'completed'`,
			s.OrgID, s.ContactID, s.FlowID))
		if err != nil {
			return nil, false, fmt.Errorf("engine: load existing session: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("engine: insert session: %w", err)
	}
	if err := drip.InsertWith(ctx, tx, drips); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("engine: insert session: commit: %w", err)
	}
	return s.Clone(), true, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, orgID, id string) (*session.Session, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("engine: get session %s: %w", id, session.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: get session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) FindOpenSession(ctx context.Context, orgID, contactID string) (*session.Session, error) {
	s, err := scanSession(p.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE org_id = $1 AND contact_id = $2 AND status <> 'completed'
		ORDER BY last_activity_at DESC LIMIT 1`, orgID, contactID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("engine: find open session for %s: %w", contactID, session.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: find open session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) ApplyTransition(ctx context.Context, c Change) (int, error) {
	s := c.Session
	answers, err := json.Marshal(s.AnsweredQuestions)
	if err != nil {
		return 0, fmt.Errorf("engine: marshal answers: %w", err)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: apply transition: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET
			status = $1, last_activity_at = $2, completed_at = $3, current_step_id = $4,
			answered_questions = $5, completion_percentage = $6, appointment_booked = $7,
			appointment_time = $8, recovery_link_sent = $9, version = $10
		WHERE id = $11 AND org_id = $12 AND version = $13`,
		string(s.Status), s.LastActivityAt, s.CompletedAt, s.CurrentStepID,
		answers, s.CompletionPercentage, s.AppointmentBooked,
		s.AppointmentTime, s.RecoveryLinkSent, s.Version,
		s.ID, s.OrgID, c.ExpectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("engine: apply transition: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("engine: apply transition %s: %w", s.ID, ErrConcurrentUpdate)
	}

	cancelled := 0
	if c.CancelDrips {
		if cancelled, err = drip.CancelPendingWith(ctx, tx, s.ID, c.At); err != nil {
			return 0, err
		}
		if err := drip.InsertWith(ctx, tx, c.Drips); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("engine: apply transition: commit: %w", err)
	}
	return cancelled, nil
}

func (p *PostgresStore) ListIdle(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("engine: list idle: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("engine: scan idle session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var status string
	var answers []byte
	if err := row.Scan(
		&s.ID, &s.OrgID, &s.ContactID, &s.FlowID, &s.FlowVersion, &status, &s.StartedAt, &s.LastActivityAt,
		&s.CompletedAt, &s.CurrentStepID, &answers, &s.QuestionsTotal, &s.CompletionPercentage,
		&s.AppointmentBooked, &s.AppointmentTime, &s.RecoveryLinkSent, &s.Version,
	); err != nil {
		return nil, err
	}
	s.Status = session.Status(status)
	s.AnsweredQuestions = map[string]string{}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &s.AnsweredQuestions); err != nil {
			return nil, fmt.Errorf("decode answered questions: %w", err)
		}
	}
	return &s, nil
}
