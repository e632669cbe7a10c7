// Package schema names the tables that take part in sync and the
// application columns each of them accepts.
package schema

import (
	"errors"
	"fmt"
	"sort"
)

type Table string

const (
	TableTasks            Table = "tasks"
	TableNotes            Table = "notes"
	TableProjects         Table = "projects"
	TableStakeholders     Table = "stakeholders"
	TableTaskStakeholders Table = "task_stakeholders"
)

// System columns are owned by the sync layer and are never application data.
const (
	ColumnID        = "id"
	ColumnUserID    = "user_id"
	ColumnSource    = "source"
	ColumnAgentID   = "agent_id"
	ColumnDeletedAt = "deleted_at"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
)

var systemColumns = map[string]struct{}{
	ColumnID:        {},
	ColumnUserID:    {},
	ColumnSource:    {},
	ColumnAgentID:   {},
	ColumnDeletedAt: {},
}

// IsSystemColumn reports whether name is managed by the sync layer.
func IsSystemColumn(name string) bool {
	_, ok := systemColumns[name]
	return ok
}

type TableDef struct {
	Name    Table
	Columns []string
}

// Definition is an ordered set of synced tables.
type Definition struct {
	Tables []TableDef
	index  map[Table]map[string]struct{}
}

func NewDefinition(tables ...TableDef) Definition {
	def := Definition{Tables: tables, index: make(map[Table]map[string]struct{}, len(tables))}
	for _, table := range tables {
		cols := make(map[string]struct{}, len(table.Columns))
		for _, col := range table.Columns {
			cols[col] = struct{}{}
		}
		def.index[table.Name] = cols
	}
	return def
}

// Default is the schema the desktop app ships with.
func Default() Definition {
	return NewDefinition(
		TableDef{Name: TableTasks, Columns: []string{"title", "description", "status", "priority", "due_date", "project_id", "completed_at", "created_at", "updated_at"}},
		TableDef{Name: TableNotes, Columns: []string{"title", "content", "project_id", "pinned", "created_at", "updated_at"}},
		TableDef{Name: TableProjects, Columns: []string{"name", "description", "status", "color", "created_at", "updated_at"}},
		TableDef{Name: TableStakeholders, Columns: []string{"name", "email", "role", "organization", "notes", "created_at", "updated_at"}},
		TableDef{Name: TableTaskStakeholders, Columns: []string{"task_id", "stakeholder_id", "created_at"}},
	)
}

// Table resolves a table name against the definition.
func (d Definition) Table(name string) (TableDef, error) {
	for _, table := range d.Tables {
		if string(table.Name) == name {
			return table, nil
		}
	}
	return TableDef{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// ValidateColumns rejects any key that is neither a system column nor an
// application column of table.
func (d Definition) ValidateColumns(table Table, values map[string]any) error {
	cols, ok := d.index[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	var unknown []string
	for key := range values {
		if IsSystemColumn(key) {
			continue
		}
		if _, ok := cols[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s.%v", ErrUnknownColumn, table, unknown)
	}
	return nil
}

// ApplicationValues returns a copy of values without system columns.
func ApplicationValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		if IsSystemColumn(key) {
			continue
		}
		out[key] = value
	}
	return out
}
