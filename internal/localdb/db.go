// Package localdb is the embedded SQLite database the desktop process writes
// to. Every local write also lands in a mutation queue that the sync engine
// drains through a Connector.
package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"contextsync/internal/schema"

	_ "modernc.org/sqlite"
)

// FileName is the fixed name of the database file inside the data directory.
const FileName = "contextsync.db"

const queueTable = "ps_crud"

var ErrClosed = errors.New("local database is closed")

type DB struct {
	sql    *sql.DB
	path   string
	schema schema.Definition

	// wake is signalled after every committed local write.
	wake chan struct{}

	mu     sync.Mutex
	engine *engine
	closed bool
}

// Open opens (creating if needed) the database file in dataDir. Call Init
// before writing.
func Open(dataDir string, def schema.Definition) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, FileName)

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &DB{
		sql:    conn,
		path:   path,
		schema: def,
		wake:   make(chan struct{}, 1),
	}, nil
}

// Path returns the location of the database file.
func (db *DB) Path() string {
	return db.path
}

// Init creates the synced tables and the mutation queue. It is safe to call
// on an existing database.
func (db *DB) Init(ctx context.Context) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin init: %w", err)
	}
	defer tx.Rollback()

	for _, table := range db.schema.Tables {
		if _, err := tx.ExecContext(ctx, createTableSQL(table)); err != nil {
			return fmt.Errorf("create table %s: %w", table.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+queueTable+` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		data TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create mutation queue: %w", err)
	}
	return tx.Commit()
}

// Close stops the sync engine, if any, and closes the file. Calling Close
// twice is a no-op.
func (db *DB) Close() error {
	db.Disconnect()

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	return db.sql.Close()
}

func (db *DB) signal() {
	select {
	case db.wake <- struct{}{}:
	default:
	}
}

func createTableSQL(table schema.TableDef) string {
	cols := []string{
		quoteIdent(schema.ColumnID) + " TEXT PRIMARY KEY",
		quoteIdent(schema.ColumnUserID) + " TEXT",
		quoteIdent(schema.ColumnSource) + " TEXT",
		quoteIdent(schema.ColumnAgentID) + " TEXT",
		quoteIdent(schema.ColumnDeletedAt) + " TEXT",
	}
	for _, col := range table.Columns {
		cols = append(cols, quoteIdent(col))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(string(table.Name)), strings.Join(cols, ", "))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
