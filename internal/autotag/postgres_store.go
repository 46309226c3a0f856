package autotag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DB that can open transactions.
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRuleStore reads rules from auto_tagging_rules. The trigger config is
// stored as opaque JSON and decoded into a typed Trigger on read.
type PostgresRuleStore struct {
	db DB
}

func NewPostgresRuleStore(db DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

func (s *PostgresRuleStore) ListRules(ctx context.Context, orgID string) ([]Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, name, enabled, priority, trigger_type, trigger_config, action_type, target_tag, condition_tags, condition_mode
		FROM auto_tagging_rules
		WHERE org_id = $1
		ORDER BY priority ASC, id ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("autotag: list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var triggerType, action, mode string
		var config []byte
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Name, &r.Enabled, &r.Priority, &triggerType, &config,
			&action, &r.TargetTag, &r.ConditionTags, &mode); err != nil {
			return nil, fmt.Errorf("autotag: scan rule: %w", err)
		}
		r.TriggerType = TriggerType(triggerType)
		r.Action = ActionType(action)
		r.ConditionMode = ConditionMode(mode)
		r.Trigger, r.ConfigErr = DecodeTrigger(r.TriggerType, config)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresRuleStore) SaveRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule.OrgID == "" {
		return Rule{}, fmt.Errorf("%w: org id required", ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.TriggerType = rule.Trigger.Type()
	config, err := json.Marshal(rule.Trigger.Config())
	if err != nil {
		return Rule{}, fmt.Errorf("autotag: marshal trigger config: %w", err)
	}
	tags := rule.ConditionTags
	if tags == nil {
		tags = []string{}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO auto_tagging_rules (id, org_id, name, enabled, priority, trigger_type, trigger_config, action_type, target_tag, condition_tags, condition_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, enabled = EXCLUDED.enabled, priority = EXCLUDED.priority,
			trigger_type = EXCLUDED.trigger_type, trigger_config = EXCLUDED.trigger_config,
			action_type = EXCLUDED.action_type, target_tag = EXCLUDED.target_tag,
			condition_tags = EXCLUDED.condition_tags, condition_mode = EXCLUDED.condition_mode,
			updated_at = now()
		WHERE auto_tagging_rules.org_id = EXCLUDED.org_id`,
		rule.ID, rule.OrgID, rule.Name, rule.Enabled, rule.Priority, string(rule.TriggerType), config,
		string(rule.Action), rule.TargetTag, tags, string(rule.mode()),
	)
	if err != nil {
		return Rule{}, fmt.Errorf("autotag: save rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) DeleteRule(ctx context.Context, orgID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM auto_tagging_rules WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("autotag: delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// PostgresTagStore keeps tags in contact_tags and the primary marker in
// contact_primary_tags.
type PostgresTagStore struct {
	db  TxDB
	now func() time.Time
}

func NewPostgresTagStore(db TxDB) *PostgresTagStore {
	return &PostgresTagStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresTagStore) Snapshot(ctx context.Context, orgID, contactID string) (ContactTagView, error) {
	view := ContactTagView{ContactID: contactID, Tags: []string{}}
	rows, err := s.db.Query(ctx, `
		SELECT tag FROM contact_tags
		WHERE org_id = $1 AND contact_id = $2
		ORDER BY created_at ASC, tag ASC`, orgID, contactID)
	if err != nil {
		return view, fmt.Errorf("autotag: snapshot tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return view, fmt.Errorf("autotag: scan tag: %w", err)
		}
		view.Tags = append(view.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return view, fmt.Errorf("autotag: snapshot tags: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT tag FROM contact_primary_tags
		WHERE org_id = $1 AND contact_id = $2`, orgID, contactID).Scan(&view.PrimaryTag)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return view, fmt.Errorf("autotag: snapshot primary tag: %w", err)
	}
	return view, nil
}

// Apply persists mutations in order inside one transaction.
func (s *PostgresTagStore) Apply(ctx context.Context, orgID, contactID string, mutations []TagMutation) error {
	if len(mutations) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("autotag: apply: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	for _, m := range mutations {
		switch m.Action {
		case ActionAddTag:
			err = addTag(ctx, tx, orgID, contactID, m.Tag, now)
		case ActionRemoveTag:
			err = removeTags(ctx, tx, orgID, contactID, []string{m.Tag})
		case ActionSetPrimaryTag:
			_, err = tx.Exec(ctx, `
				INSERT INTO contact_primary_tags (org_id, contact_id, tag, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (org_id, contact_id) DO UPDATE SET tag = EXCLUDED.tag, updated_at = EXCLUDED.updated_at`,
				orgID, contactID, m.Tag, now)
		case ActionReplaceConditionTags:
			if err = removeTags(ctx, tx, orgID, contactID, m.Removed); err == nil {
				err = addTag(ctx, tx, orgID, contactID, m.Tag, now)
			}
		default:
			err = fmt.Errorf("unknown action %q", m.Action)
		}
		if err != nil {
			return fmt.Errorf("autotag: apply %s %q: %w", m.Action, m.Tag, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("autotag: apply: commit: %w", err)
	}
	return nil
}

func addTag(ctx context.Context, q DB, orgID, contactID, tag string, now time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO contact_tags (org_id, contact_id, tag, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, contact_id, tag) DO NOTHING`, orgID, contactID, tag, now)
	return err
}

func removeTags(ctx context.Context, q DB, orgID, contactID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		DELETE FROM contact_tags
		WHERE org_id = $1 AND contact_id = $2 AND tag = ANY($3)`, orgID, contactID, tags)
	return err
}
