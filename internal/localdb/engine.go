package localdb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Credentials are what a Connector hands the engine to reach the sync service.
type Credentials struct {
	Endpoint  string
	Token     string
	ExpiresAt time.Time
}

// Connector is the bridge between the engine and a backend.
type Connector interface {
	FetchCredentials(ctx context.Context) (Credentials, error)
	// UploadData pushes queued mutations. It acknowledges what it delivered
	// through db.Complete and returns an error to leave the rest queued.
	UploadData(ctx context.Context, db *DB) error
}

// Status is a snapshot of the sync engine for status displays.
type Status struct {
	Connected    bool
	Uploading    bool
	LastError    string
	LastUploadAt time.Time
	Pending      int
}

type EngineOptions struct {
	// Interval between upload attempts when no local write wakes the engine.
	Interval time.Duration
	// MaxBackoff caps the wait between attempts after a failure.
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

const (
	defaultSyncInterval = 30 * time.Second
	defaultMaxBackoff   = 2 * time.Minute
)

type engine struct {
	db        *DB
	connector Connector
	interval  time.Duration
	backoff   *backoff.ExponentialBackOff
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// Connect starts the sync engine with c. A previous connection is replaced.
// Upload failures never surface here: they are logged, kept in Status and
// retried with exponential backoff.
func (db *DB) Connect(ctx context.Context, c Connector, opts EngineOptions) error {
	if c == nil {
		return errors.New("connector is required")
	}
	db.Disconnect()

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSyncInterval
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	// The engine outlives the caller's deadline; Disconnect stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &engine{
		db:        db,
		connector: c,
		interval:  opts.Interval,
		backoff:   bo,
		logger:    opts.Logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	db.engine = e
	go e.run(runCtx)
	return nil
}

// Disconnect stops the sync engine and waits for an in-flight upload to
// return. Queued mutations stay queued.
func (db *DB) Disconnect() {
	db.mu.Lock()
	e := db.engine
	db.engine = nil
	db.mu.Unlock()
	if e == nil {
		return
	}
	e.cancel()
	<-e.done
}

// Status reports the engine state. A disconnected database reports only its
// queue length.
func (db *DB) Status(ctx context.Context) Status {
	db.mu.Lock()
	e := db.engine
	db.mu.Unlock()

	var status Status
	if e != nil {
		e.mu.Lock()
		status = e.status
		e.mu.Unlock()
	}
	if pending, err := db.PendingCount(ctx); err == nil {
		status.Pending = pending
	}
	return status
}

// Sync fetches credentials and uploads until the queue is empty or the
// connector stops making progress.
func (db *DB) Sync(ctx context.Context, c Connector) error {
	if _, err := c.FetchCredentials(ctx); err != nil {
		return err
	}
	return db.uploadAll(ctx, c)
}

func (db *DB) uploadAll(ctx context.Context, c Connector) error {
	for {
		before, err := db.PendingCount(ctx)
		if err != nil {
			return err
		}
		if before == 0 {
			return nil
		}
		if err := c.UploadData(ctx, db); err != nil {
			return err
		}
		after, err := db.PendingCount(ctx)
		if err != nil {
			return err
		}
		if after >= before {
			return nil
		}
	}
}

func (e *engine) run(ctx context.Context) {
	defer close(e.done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	backingOff := false

	for {
		select {
		case <-ctx.Done():
			e.setConnected(false)
			return
		case <-e.db.wake:
			if backingOff {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		wait := e.interval
		if err := e.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				e.setConnected(false)
				return
			}
			wait = e.backoff.NextBackOff()
			backingOff = true
			e.logger.Warn("sync upload failed", "error", err, "retry_in", wait.String())
		} else {
			e.backoff.Reset()
			backingOff = false
		}
		timer.Reset(wait)
	}
}

func (e *engine) cycle(ctx context.Context) error {
	if !e.connected() {
		creds, err := e.connector.FetchCredentials(ctx)
		if err != nil {
			e.fail(err)
			return err
		}
		e.setConnected(true)
		e.logger.Info("sync connected", "endpoint", creds.Endpoint, "expires_at", creds.ExpiresAt)
	}

	e.setUploading(true)
	err := e.db.uploadAll(ctx, e.connector)
	e.setUploading(false)
	if err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.status.LastError = ""
	e.status.LastUploadAt = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *engine) connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Connected
}

func (e *engine) setConnected(connected bool) {
	e.mu.Lock()
	e.status.Connected = connected
	e.mu.Unlock()
}

func (e *engine) setUploading(uploading bool) {
	e.mu.Lock()
	e.status.Uploading = uploading
	e.mu.Unlock()
}

// fail drops the connection so the next cycle fetches credentials again.
func (e *engine) fail(err error) {
	e.mu.Lock()
	e.status.Connected = false
	e.status.LastError = err.Error()
	e.mu.Unlock()
}
