package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"contextsync/internal/localdb"
)

// BatchSize is the most mutations one Upload call sends.
const BatchSize = 100

// MutationQueue is the two-phase queue an Uploader drains: read a batch,
// then acknowledge it once every write landed.
type MutationQueue interface {
	NextBatch(ctx context.Context, limit int) (*localdb.Batch, error)
	Complete(ctx context.Context, batch *localdb.Batch) error
}

type credentialSource interface {
	Credential(ctx context.Context) (Credential, error)
	Invalidate()
}

type remoteWriter interface {
	Apply(ctx context.Context, accessToken string, cmd Command) error
}

// Uploader pushes one batch per call. Calls are serialized so batches reach
// the remote store in queue order.
type Uploader struct {
	credentials credentialSource
	remote      remoteWriter
	batchSize   int
	now         func() time.Time
	logger      *slog.Logger

	mu sync.Mutex
}

func NewUploader(credentials credentialSource, remote remoteWriter) *Uploader {
	return &Uploader{
		credentials: credentials,
		remote:      remote,
		batchSize:   BatchSize,
		now:         time.Now,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Upload sends the next batch in order and acknowledges it only when every
// write succeeded. The first failing write aborts the batch and leaves all of
// it queued; resending is safe because every write is keyed by row id.
func (u *Uploader) Upload(ctx context.Context, queue MutationQueue) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, err := u.credentials.Credential(ctx); err != nil {
		return err
	}

	batch, err := queue.NextBatch(ctx, u.batchSize)
	if err != nil {
		return fmt.Errorf("read pending mutations: %w", err)
	}
	if batch == nil || len(batch.Mutations) == 0 {
		return nil
	}

	for _, m := range batch.Mutations {
		if err := u.apply(ctx, m); err != nil {
			if IsUnauthorized(err) {
				u.credentials.Invalidate()
			}
			return &UploadError{Table: m.Table, RowID: m.RowID, Op: m.Op, Err: err}
		}
	}

	if err := queue.Complete(ctx, batch); err != nil {
		return fmt.Errorf("acknowledge batch: %w", err)
	}
	u.logger.Info("batch uploaded", "mutations", len(batch.Mutations), "more", batch.HasMore)
	return nil
}

// apply reads the credential again for every write so a refresh during the
// batch stamps later rows with the new identity.
func (u *Uploader) apply(ctx context.Context, m localdb.Mutation) error {
	cred, err := u.credentials.Credential(ctx)
	if err != nil {
		return err
	}
	identity, err := cred.Identity()
	if err != nil {
		return err
	}
	cmd, err := CommandFor(m, identity, u.now())
	if err != nil {
		return err
	}
	return u.remote.Apply(ctx, cred.Token(), cmd)
}
