package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contextsync/internal/schema"
)

type Op string

const (
	OpPut    Op = "PUT"
	OpPatch  Op = "PATCH"
	OpDelete Op = "DELETE"
)

// Mutation is one queued local write. Position is its place in the queue and
// only grows.
type Mutation struct {
	Position int64
	Op       Op
	Table    schema.Table
	RowID    string
	Data     map[string]any
}

// Batch is a prefix of the queue handed to an uploader. It stays queued until
// Complete is called with it.
type Batch struct {
	Mutations    []Mutation
	LastPosition int64
	HasMore      bool
}

type queueEntry struct {
	Op   Op             `json:"op"`
	Type schema.Table   `json:"type"`
	ID   string         `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

func enqueue(ctx context.Context, tx *sql.Tx, entry queueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+queueTable+` (data) VALUES (?)`, string(payload)); err != nil {
		return fmt.Errorf("enqueue mutation: %w", err)
	}
	return nil
}

// NextBatch returns up to limit mutations in queue order without removing
// them. It returns nil when nothing is pending.
func (db *DB) NextBatch(ctx context.Context, limit int) (*Batch, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("batch limit must be positive, got %d", limit)
	}
	rows, err := db.sql.QueryContext(ctx, `SELECT id, data FROM `+queueTable+` ORDER BY id ASC LIMIT ?`, limit+1)
	if err != nil {
		return nil, fmt.Errorf("read mutation queue: %w", err)
	}
	defer rows.Close()

	batch := &Batch{}
	for rows.Next() {
		if len(batch.Mutations) == limit {
			batch.HasMore = true
			break
		}
		var (
			position int64
			raw      string
		)
		if err := rows.Scan(&position, &raw); err != nil {
			return nil, err
		}
		var entry queueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode mutation %d: %w", position, err)
		}
		batch.Mutations = append(batch.Mutations, Mutation{
			Position: position,
			Op:       entry.Op,
			Table:    entry.Type,
			RowID:    entry.ID,
			Data:     entry.Data,
		})
		batch.LastPosition = position
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch.Mutations) == 0 {
		return nil, nil
	}
	return batch, nil
}

// Complete acknowledges batch: every mutation up to its last position leaves
// the queue. Mutations queued after the batch was read stay.
func (db *DB) Complete(ctx context.Context, batch *Batch) error {
	if batch == nil || len(batch.Mutations) == 0 {
		return nil
	}
	if _, err := db.sql.ExecContext(ctx, `DELETE FROM `+queueTable+` WHERE id <= ?`, batch.LastPosition); err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return nil
}

func (db *DB) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+queueTable).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending mutations: %w", err)
	}
	return count, nil
}
