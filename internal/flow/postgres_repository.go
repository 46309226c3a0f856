package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores each flow version as a JSONB document.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository backed by the given pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("flow: db required")
	}
	return &PostgresRepository{db: db}
}

// Save inserts def as the next version of its flow.
func (r *PostgresRepository) Save(ctx context.Context, def *Definition) (*Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal definition: %w", err)
	}

	stored := def.Clone()
	err = r.db.QueryRow(ctx, `
		INSERT INTO flow_definitions (org_id, id, version, name, definition)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4
		FROM flow_definitions WHERE org_id = $1 AND id = $2
		RETURNING version, created_at`,
		def.OrgID, def.ID, def.Name, doc,
	).Scan(&stored.Version, &stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("flow: insert definition: %w", err)
	}
	return stored, nil
}

// Get returns the latest version of a flow.
func (r *PostgresRepository) Get(ctx context.Context, orgID, flowID string) (*Definition, error) {
	row := r.db.QueryRow(ctx, `
		SELECT version, definition, created_at
		FROM flow_definitions
		WHERE org_id = $1 AND id = $2
		ORDER BY version DESC LIMIT 1`, orgID, flowID)
	return scanDefinition(row, orgID, flowID)
}

// GetVersion returns a specific version of a flow.
func (r *PostgresRepository) GetVersion(ctx context.Context, orgID, flowID string, version int) (*Definition, error) {
	row := r.db.QueryRow(ctx, `
		SELECT version, definition, created_at
		FROM flow_definitions
		WHERE org_id = $1 AND id = $2 AND version = $3`, orgID, flowID, version)
	return scanDefinition(row, orgID, flowID)
}

// List returns the latest version of each flow owned by orgID.
func (r *PostgresRepository) List(ctx context.Context, orgID string) ([]*Definition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (id) id, version, definition, created_at
		FROM flow_definitions
		WHERE org_id = $1
		ORDER BY id, version DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("flow: list definitions: %w", err)
	}
	defer rows.Close()

	var out []*Definition
	for rows.Next() {
		var (
			id        string
			version   int
			doc       []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &version, &doc, &createdAt); err != nil {
			return nil, fmt.Errorf("flow: scan definition: %w", err)
		}
		def, err := decodeDefinition(doc, orgID, id, version, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func scanDefinition(row pgx.Row, orgID, flowID string) (*Definition, error) {
	var (
		version   int
		doc       []byte
		createdAt time.Time
	)
	if err := row.Scan(&version, &doc, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlowNotFound
		}
		return nil, fmt.Errorf("flow: select definition: %w", err)
	}
	return decodeDefinition(doc, orgID, flowID, version, createdAt)
}

func decodeDefinition(doc []byte, orgID, flowID string, version int, createdAt time.Time) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, fmt.Errorf("flow: unmarshal definition: %w", err)
	}
	def.OrgID = orgID
	def.ID = flowID
	def.Version = version
	def.CreatedAt = createdAt
	return &def, nil
}
