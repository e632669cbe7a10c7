package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"contextsync/internal/schema"
	"contextsync/internal/util"
)

func openIntegrationStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CTX_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CTX_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	return NewPostgresStore(db), ctx
}

func TestFindActiveAgentByKeyHashSkipsRevoked(t *testing.T) {
	s, ctx := openIntegrationStore(t)

	activeHash := strings.Repeat("a", 63) + "1"
	revokedHash := strings.Repeat("b", 63) + "2"
	activeID := util.NewID("agt")
	revokedID := util.NewID("agt")
	for _, stmt := range []struct {
		id, hash string
		revoked  bool
	}{{activeID, activeHash, false}, {revokedID, revokedHash, true}} {
		_, err := s.DB().ExecContext(ctx, `
			INSERT INTO agents (id, user_id, name, api_key_hash, revoked_at)
			VALUES ($1, 'user-1', 'assistant', $2, CASE WHEN $3 THEN NOW() ELSE NULL END)
			ON CONFLICT (api_key_hash) DO UPDATE SET id = EXCLUDED.id, revoked_at = EXCLUDED.revoked_at
		`, stmt.id, stmt.hash, stmt.revoked)
		if err != nil {
			t.Fatalf("seed agent: %v", err)
		}
	}

	agent, err := s.FindActiveAgentByKeyHash(ctx, activeHash)
	if err != nil {
		t.Fatalf("FindActiveAgentByKeyHash() error = %v", err)
	}
	if agent.ID != activeID || len(agent.Permissions) != 2 {
		t.Fatalf("unexpected agent: %+v", agent)
	}
	if _, err := s.FindActiveAgentByKeyHash(ctx, revokedHash); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for revoked key, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchAgentLastUsed(ctx, activeID, now); err != nil {
		t.Fatalf("TouchAgentLastUsed() error = %v", err)
	}
	agent, err = s.GetAgent(ctx, activeID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agent.LastUsedAt == nil || !agent.LastUsedAt.Equal(now) {
		t.Fatalf("expected last_used_at %s, got %v", now, agent.LastUsedAt)
	}
}

func TestRowWritesReplayToSameState(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	rowID := util.NewID("task")
	deletedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	apply := func() {
		steps := []func() error{
			func() error {
				return s.UpsertRow(ctx, RowWrite{Table: schema.TableTasks, ID: rowID, UserID: "user-1", Source: "ai", AgentID: "agent-1", Data: map[string]any{"title": "draft", "x": float64(1)}})
			},
			func() error {
				return s.PatchRow(ctx, RowWrite{Table: schema.TableTasks, ID: rowID, UserID: "user-1", Source: "ai", AgentID: "agent-1", Data: map[string]any{"x": float64(2)}})
			},
			func() error {
				return s.PatchRow(ctx, RowWrite{Table: schema.TableTasks, ID: rowID, UserID: "user-1", Source: "ai", AgentID: "agent-2", Data: map[string]any{"x": float64(3)}})
			},
		}
		for _, step := range steps {
			if err := step(); err != nil {
				t.Fatalf("write failed: %v", err)
			}
		}
	}

	apply()
	first, err := s.GetRow(ctx, schema.TableTasks, rowID)
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	apply()
	second, err := s.GetRow(ctx, schema.TableTasks, rowID)
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay changed row: %+v vs %+v", first, second)
	}
	if second.Data["x"] != float64(3) || second.Data["title"] != "draft" || second.AgentID != "agent-2" {
		t.Fatalf("unexpected final row: %+v", second)
	}

	for i := 0; i < 2; i++ {
		if err := s.SoftDeleteRow(ctx, schema.TableTasks, rowID, "user-1", deletedAt.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("SoftDeleteRow() error = %v", err)
		}
	}
	deleted, err := s.GetRow(ctx, schema.TableTasks, rowID)
	if err != nil {
		t.Fatalf("expected row to survive soft delete: %v", err)
	}
	if deleted.DeletedAt == nil || !deleted.DeletedAt.Equal(deletedAt) {
		t.Fatalf("expected first deleted_at to stick, got %v", deleted.DeletedAt)
	}
	deleted.DeletedAt = nil
	if !reflect.DeepEqual(deleted, second) {
		t.Fatalf("soft delete changed other columns: %+v vs %+v", deleted, second)
	}
}

func TestUpsertRowKeepsTenantIsolation(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	rowID := util.NewID("note")
	if err := s.UpsertRow(ctx, RowWrite{Table: schema.TableNotes, ID: rowID, UserID: "owner", Source: "ai", AgentID: "a", Data: map[string]any{"title": "mine"}}); err != nil {
		t.Fatalf("UpsertRow() error = %v", err)
	}
	intruder := RowWrite{Table: schema.TableNotes, ID: rowID, UserID: "intruder", Source: "ai", AgentID: "b", Data: map[string]any{"title": "theirs"}}
	if err := s.UpsertRow(ctx, intruder); !errors.Is(err, ErrRowOwnedElsewhere) {
		t.Fatalf("UpsertRow() error = %v, want ErrRowOwnedElsewhere", err)
	}
	if err := s.PatchRow(ctx, intruder); !errors.Is(err, ErrRowOwnedElsewhere) {
		t.Fatalf("PatchRow() error = %v, want ErrRowOwnedElsewhere", err)
	}
	if err := s.SoftDeleteRow(ctx, schema.TableNotes, rowID, "intruder", time.Now()); !errors.Is(err, ErrRowOwnedElsewhere) {
		t.Fatalf("SoftDeleteRow() error = %v, want ErrRowOwnedElsewhere", err)
	}
	row, err := s.GetRow(ctx, schema.TableNotes, rowID)
	if err != nil {
		t.Fatalf("GetRow() error = %v", err)
	}
	if row.UserID != "owner" || row.Data["title"] != "mine" {
		t.Fatalf("cross-tenant upsert modified row: %+v", row)
	}
}

func TestRowWritesToMissingRowAreNoops(t *testing.T) {
	s, ctx := openIntegrationStore(t)
	rowID := util.NewID("task")
	if err := s.PatchRow(ctx, RowWrite{Table: schema.TableTasks, ID: rowID, UserID: "user-1", Source: "ai", AgentID: "a", Data: map[string]any{"x": float64(1)}}); err != nil {
		t.Fatalf("PatchRow() error = %v", err)
	}
	if err := s.SoftDeleteRow(ctx, schema.TableTasks, rowID, "user-1", time.Now()); err != nil {
		t.Fatalf("SoftDeleteRow() error = %v", err)
	}
	if _, err := s.GetRow(ctx, schema.TableTasks, rowID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no row, got %v", err)
	}
}
