package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"contextsync/internal/auth"
)

// RefreshBuffer is how long before expiry a cached token is replaced.
const RefreshBuffer = 300 * time.Second

// refreshTimeout bounds one shared exchange, whoever started it.
const refreshTimeout = 30 * time.Second

// Credential is an access token obtained from the exchange endpoint by this
// process. Its fields are unexported so a Credential cannot be built from a
// token of any other origin.
type Credential struct {
	token     string
	expiresAt time.Time
	endpoint  string
}

func (c Credential) Token() string        { return c.token }
func (c Credential) ExpiresAt() time.Time { return c.expiresAt }
func (c Credential) Endpoint() string     { return c.endpoint }

// Identity decodes the tenant and agent from the token payload without
// checking the signature. The exchange endpoint verified the key that
// produced the token, and Credential values only come from that exchange.
func (c Credential) Identity() (auth.Identity, error) {
	return auth.DecodeIdentity(c.token)
}

// TokenCache holds the process's single access token and refreshes it
// through an Exchanger. Concurrent callers share one refresh.
type TokenCache struct {
	exchanger Exchanger
	apiKey    string
	endpoint  string
	now       func() time.Time
	logger    *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	current *Credential
}

func NewTokenCache(exchanger Exchanger, apiKey, endpoint string) *TokenCache {
	return &TokenCache{
		exchanger: exchanger,
		apiKey:    apiKey,
		endpoint:  endpoint,
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Credential returns the cached token, refreshing first when none is held or
// it expires within RefreshBuffer. A failed refresh leaves the cache empty.
//
// The shared refresh is detached from any single caller, so one caller
// giving up does not fail the others; each returns when its own ctx ends.
func (c *TokenCache) Credential(ctx context.Context) (Credential, error) {
	if cred, ok := c.cached(); ok {
		return cred, nil
	}
	ch := c.group.DoChan("refresh", func() (any, error) {
		// A refresh that finished just before this one started may already
		// have left a usable token.
		if cred, ok := c.cached(); ok {
			return cred, nil
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx)
	})
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate drops the cached token; the next Credential call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

func (c *TokenCache) cached() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Credential{}, false
	}
	if c.current.expiresAt.Sub(c.now()) < RefreshBuffer {
		return Credential{}, false
	}
	return *c.current, true
}

func (c *TokenCache) refresh(ctx context.Context) (Credential, error) {
	grant, err := c.exchanger.Exchange(ctx, c.apiKey)
	if err != nil {
		c.Invalidate()
		return Credential{}, fmt.Errorf("exchange api key: %w", err)
	}
	cred := Credential{
		token:     grant.Token,
		expiresAt: time.Unix(grant.ExpiresAt, 0),
		endpoint:  c.endpoint,
	}

	c.mu.Lock()
	c.current = &cred
	c.mu.Unlock()

	c.logger.Info("access token refreshed", "agent_id", grant.AgentID, "expires_at", cred.expiresAt)
	return cred, nil
}
