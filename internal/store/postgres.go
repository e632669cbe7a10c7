package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"contextsync/internal/schema"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const agentColumns = `id, user_id, name, api_key_hash, permissions, revoked_at, last_used_at, created_at`

// FindActiveAgentByKeyHash returns sql.ErrNoRows when no non-revoked agent
// owns the digest.
func (s *PostgresStore) FindActiveAgentByKeyHash(ctx context.Context, keyHash string) (Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE api_key_hash = $1 AND revoked_at IS NULL
	`, keyHash)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, err
		}
		return Agent{}, fmt.Errorf("find agent by key: %w", err)
	}
	return agent, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, err
		}
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (s *PostgresStore) TouchAgentLastUsed(ctx context.Context, agentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_used_at = $2 WHERE id = $1`, agentID, at)
	if err != nil {
		return fmt.Errorf("touch agent: %w", err)
	}
	return nil
}

func scanAgent(row *sql.Row) (Agent, error) {
	var (
		agent       Agent
		permissions []byte
		revokedAt   sql.NullTime
		lastUsedAt  sql.NullTime
	)
	if err := row.Scan(&agent.ID, &agent.UserID, &agent.Name, &agent.APIKeyHash, &permissions, &revokedAt, &lastUsedAt, &agent.CreatedAt); err != nil {
		return Agent{}, err
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &agent.Permissions); err != nil {
			return Agent{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		agent.RevokedAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		agent.LastUsedAt = &t
	}
	return agent, nil
}

// ErrRowOwnedElsewhere is returned when a write targets a row id that
// belongs to another tenant. The row is left untouched.
var ErrRowOwnedElsewhere = errors.New("row belongs to another tenant")

// UpsertRow replaces the row's application data.
func (s *PostgresStore) UpsertRow(ctx context.Context, w RowWrite) error {
	data, err := json.Marshal(nonNil(w.Data))
	if err != nil {
		return fmt.Errorf("marshal row data: %w", err)
	}
	table := tableIdent(w.Table)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, user_id, source, agent_id, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, source = EXCLUDED.source, agent_id = EXCLUDED.agent_id
		WHERE `+table+`.user_id = EXCLUDED.user_id
	`, w.ID, w.UserID, w.Source, w.AgentID, string(data))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", w.Table, w.ID, err)
	}
	// Both the insert and the guarded update affect one row; zero means the
	// conflicting row has another owner.
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", w.Table, w.ID, err)
	}
	if affected == 0 {
		return ErrRowOwnedElsewhere
	}
	return nil
}

// PatchRow merges w.Data into the stored data. Missing rows are not an error.
func (s *PostgresStore) PatchRow(ctx context.Context, w RowWrite) error {
	data, err := json.Marshal(nonNil(w.Data))
	if err != nil {
		return fmt.Errorf("marshal row patch: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE `+tableIdent(w.Table)+`
		SET data = data || $3::jsonb, source = $4, agent_id = $5
		WHERE id = $1 AND user_id = $2
	`, w.ID, w.UserID, string(data), w.Source, w.AgentID)
	if err != nil {
		return fmt.Errorf("patch %s/%s: %w", w.Table, w.ID, err)
	}
	return s.checkOwner(ctx, result, w.Table, w.ID, w.UserID)
}

// SoftDeleteRow only sets deleted_at, and keeps the first deletion time on
// replays.
func (s *PostgresStore) SoftDeleteRow(ctx context.Context, table schema.Table, id, userID string, deletedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE `+tableIdent(table)+`
		SET deleted_at = COALESCE(deleted_at, $3)
		WHERE id = $1 AND user_id = $2
	`, id, userID, deletedAt)
	if err != nil {
		return fmt.Errorf("soft delete %s/%s: %w", table, id, err)
	}
	return s.checkOwner(ctx, result, table, id, userID)
}

// checkOwner tells a missing row, which is fine, from a row the tenant does
// not own after an update matched nothing.
func (s *PostgresStore) checkOwner(ctx context.Context, result sql.Result, table schema.Table, id, userID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", table, id, err)
	}
	if affected > 0 {
		return nil
	}
	var foreign bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM `+tableIdent(table)+` WHERE id = $1 AND user_id <> $2)
	`, id, userID).Scan(&foreign)
	if err != nil {
		return fmt.Errorf("check owner of %s/%s: %w", table, id, err)
	}
	if foreign {
		return ErrRowOwnedElsewhere
	}
	return nil
}

func (s *PostgresStore) GetRow(ctx context.Context, table schema.Table, id string) (Row, error) {
	var (
		row       Row
		source    sql.NullString
		agentID   sql.NullString
		data      []byte
		deletedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, source, agent_id, data, deleted_at
		FROM `+tableIdent(table)+`
		WHERE id = $1
	`, id).Scan(&row.ID, &row.UserID, &source, &agentID, &data, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Row{}, err
		}
		return Row{}, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	row.Table = table
	row.Source = source.String
	row.AgentID = agentID.String
	if err := json.Unmarshal(data, &row.Data); err != nil {
		return Row{}, fmt.Errorf("decode row data: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		row.DeletedAt = &t
	}
	return row, nil
}

// tableIdent quotes a table name. Callers resolve names through
// schema.Definition first, so only known tables reach SQL.
func tableIdent(table schema.Table) string {
	return pgx.Identifier{string(table)}.Sanitize()
}

func nonNil(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	return values
}
