// Package connector links the local database to the remote backend: it keeps
// an access token fresh and uploads queued mutations under that token's
// identity.
package connector

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"contextsync/internal/config"
	"contextsync/internal/localdb"
)

type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Now overrides the clock for token expiry and soft delete timestamps.
	Now func() time.Time
}

// Connector implements localdb.Connector.
type Connector struct {
	tokens   *TokenCache
	uploader *Uploader
	logger   *slog.Logger
}

// New fails with a *config.MissingEnvError when cfg is incomplete.
func New(cfg config.Client, opts Options) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	httpClient := defaultHTTPClient(opts.HTTPClient)

	tokens := NewTokenCache(NewExchangeClient(cfg.RemoteURL, cfg.RemoteAnonKey, httpClient), cfg.APIKey, cfg.SyncURL)
	tokens.now = now
	tokens.logger = logger

	uploader := NewUploader(tokens, NewRemoteClient(cfg.RemoteURL, cfg.RemoteAnonKey, httpClient))
	uploader.now = now
	uploader.logger = logger

	return &Connector{tokens: tokens, uploader: uploader, logger: logger}, nil
}

func (c *Connector) FetchCredentials(ctx context.Context) (localdb.Credentials, error) {
	cred, err := c.tokens.Credential(ctx)
	if err != nil {
		return localdb.Credentials{}, err
	}
	return localdb.Credentials{
		Endpoint:  cred.Endpoint(),
		Token:     cred.Token(),
		ExpiresAt: cred.ExpiresAt(),
	}, nil
}

func (c *Connector) UploadData(ctx context.Context, db *localdb.DB) error {
	return c.uploader.Upload(ctx, db)
}

// Tokens exposes the token cache, mostly for status and tests.
func (c *Connector) Tokens() *TokenCache {
	return c.tokens
}

// Close forgets the access token. Tokens are never written to disk.
func (c *Connector) Close() {
	c.tokens.Invalidate()
}
