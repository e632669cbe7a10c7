package schema

import (
	"errors"
	"testing"
)

func TestDefinitionTable(t *testing.T) {
	def := Default()
	table, err := def.Table("tasks")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	if table.Name != TableTasks {
		t.Fatalf("unexpected table %q", table.Name)
	}
	if _, err := def.Table("users"); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestValidateColumns(t *testing.T) {
	def := Default()
	err := def.ValidateColumns(TableNotes, map[string]any{
		"id":       "n1",
		"user_id":  "u1",
		"title":    "Standup",
		"content":  "notes",
		"agent_id": "a1",
	})
	if err != nil {
		t.Fatalf("ValidateColumns() error = %v", err)
	}
	err = def.ValidateColumns(TableNotes, map[string]any{"title": "x", "password": "y"})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("expected ErrUnknownColumn, got %v", err)
	}
	if err := def.ValidateColumns(Table("nope"), nil); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestApplicationValues(t *testing.T) {
	out := ApplicationValues(map[string]any{"id": "1", "user_id": "u", "deleted_at": "x", "title": "t"})
	if len(out) != 1 || out["title"] != "t" {
		t.Fatalf("unexpected application values: %v", out)
	}
}
