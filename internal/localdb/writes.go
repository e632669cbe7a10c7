package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"contextsync/internal/schema"
)

var ErrRowNotFound = errors.New("row not found")

// Put inserts or replaces a row and queues a PUT carrying its values.
func (db *DB) Put(ctx context.Context, table schema.Table, id string, values map[string]any) error {
	data, err := db.applicationValues(table, id, values)
	if err != nil {
		return err
	}
	cols := sortedKeys(data)

	names := []string{quoteIdent(schema.ColumnID)}
	args := []any{id}
	for _, col := range cols {
		names = append(names, quoteIdent(col))
		arg, err := sqlValue(data[col])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", table, col, err)
		}
		args = append(args, arg)
	}
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(string(table)),
		strings.Join(names, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "),
	)

	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("put %s/%s: %w", table, id, err)
		}
		return enqueue(ctx, tx, queueEntry{Op: OpPut, Type: table, ID: id, Data: data})
	})
}

// Patch updates the given columns of an existing row and queues a PATCH.
// An empty patch changes nothing and queues nothing.
func (db *DB) Patch(ctx context.Context, table schema.Table, id string, values map[string]any) error {
	data, err := db.applicationValues(table, id, values)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	cols := sortedKeys(data)

	assignments := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		assignments = append(assignments, quoteIdent(col)+" = ?")
		arg, err := sqlValue(data[col])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", table, col, err)
		}
		args = append(args, arg)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(string(table)), strings.Join(assignments, ", "), quoteIdent(schema.ColumnID))

	return db.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("patch %s/%s: %w", table, id, err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		return enqueue(ctx, tx, queueEntry{Op: OpPatch, Type: table, ID: id, Data: data})
	})
}

// Delete removes the row locally and queues a DELETE.
func (db *DB) Delete(ctx context.Context, table schema.Table, id string) error {
	if _, err := db.schema.Table(string(table)); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("row id is required")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(string(table)), quoteIdent(schema.ColumnID))

	return db.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", table, id, err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
		return enqueue(ctx, tx, queueEntry{Op: OpDelete, Type: table, ID: id})
	})
}

// Get returns the non-null columns of one row.
func (db *DB) Get(ctx context.Context, table schema.Table, id string) (map[string]any, error) {
	if _, err := db.schema.Table(string(table)); err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", quoteIdent(string(table)), quoteIdent(schema.ColumnID)), id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrRowNotFound
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	targets := make([]any, len(cols))
	for i := range values {
		targets[i] = &values[i]
	}
	if err := rows.Scan(targets...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, col := range cols {
		if values[i] != nil {
			out[col] = values[i]
		}
	}
	return out, nil
}

func (db *DB) write(ctx context.Context, fn func(*sql.Tx) error) error {
	db.mu.Lock()
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return ErrClosed
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	db.signal()
	return nil
}

// applicationValues validates values against the table and drops the columns
// the sync layer owns.
func (db *DB) applicationValues(table schema.Table, id string, values map[string]any) (map[string]any, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("row id is required")
	}
	if _, err := db.schema.Table(string(table)); err != nil {
		return nil, err
	}
	if err := db.schema.ValidateColumns(table, values); err != nil {
		return nil, err
	}
	return schema.ApplicationValues(values), nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRowNotFound
	}
	return nil
}

func sqlValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
