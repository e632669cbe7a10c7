// Package lifecycle owns the local database and its connector for one
// process. The entry point builds a Manager once and passes it to whatever
// needs the database.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"contextsync/internal/config"
	"contextsync/internal/connector"
	"contextsync/internal/localdb"
	"contextsync/internal/schema"
)

var ErrNotInitialized = errors.New("local database is not initialized")

type State int

const (
	Uninitialized State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Schema       schema.Definition
	SyncInterval time.Duration
	Logger       *slog.Logger
	Connector    connector.Options
}

type Manager struct {
	cfg    config.Client
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
	db    *localdb.DB
	conn  *connector.Connector
}

// New does no I/O; Init opens the database.
func New(cfg config.Client, opts Options) *Manager {
	if opts.Schema.Tables == nil {
		opts.Schema = schema.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Connector.Logger == nil {
		opts.Connector.Logger = logger
	}
	return &Manager{cfg: cfg, opts: opts, logger: logger}
}

// Init opens, initializes and connects the database. When the manager is
// already Ready it returns the existing handle. A configuration error fails
// before any file is created.
func (m *Manager) Init(ctx context.Context) (*localdb.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Ready {
		return m.db, nil
	}

	conn, err := connector.New(m.cfg, m.opts.Connector)
	if err != nil {
		return nil, err
	}

	db, err := localdb.Open(m.cfg.DataDir, m.opts.Schema)
	if err != nil {
		return nil, err
	}
	if err := db.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize local database: %w", err)
	}
	if err := db.Connect(ctx, conn, localdb.EngineOptions{
		Interval: m.opts.SyncInterval,
		Logger:   m.logger,
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect local database: %w", err)
	}

	m.db = db
	m.conn = conn
	m.state = Ready
	m.logger.Info("local database ready", "path", db.Path())
	return db, nil
}

// DB returns ErrNotInitialized unless the manager is Ready.
func (m *Manager) DB() (*localdb.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready {
		return nil, ErrNotInitialized
	}
	return m.db, nil
}

func (m *Manager) Connector() (*connector.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ready {
		return nil, ErrNotInitialized
	}
	return m.conn, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close disconnects and closes the database, drops the access token and
// forgets both handles. Init may be called again afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Ready {
		return nil
	}
	m.db.Disconnect()
	err := m.db.Close()
	m.conn.Close()

	m.db = nil
	m.conn = nil
	m.state = Closed
	if err != nil {
		return fmt.Errorf("close local database: %w", err)
	}
	m.logger.Info("local database closed")
	return nil
}
