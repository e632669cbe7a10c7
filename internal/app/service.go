package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"contextsync/internal/auth"
	"contextsync/internal/config"
	"contextsync/internal/keyusage"
	"contextsync/internal/rbac"
	"contextsync/internal/schema"
	"contextsync/internal/store"
	"contextsync/internal/util"
)

const (
	SourceAgent = "ai"

	OpUpsert     = "upsert"
	OpUpdate     = "update"
	OpSoftDelete = "soft_delete"
)

// TokenGrant is the result of exchanging an API key.
type TokenGrant struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	AgentID   string
}

// KeyInfo is what validation reveals about a key.
type KeyInfo struct {
	UserID      string
	AgentID     string
	Permissions []string
}

// WriteInput is one remote write sent by a sync client.
type WriteInput struct {
	Op  string         `json:"op"`
	ID  string         `json:"id"`
	Row map[string]any `json:"row"`
}

type dataStore interface {
	FindActiveAgentByKeyHash(context.Context, string) (store.Agent, error)
	GetAgent(context.Context, string) (store.Agent, error)
	TouchAgentLastUsed(context.Context, string, time.Time) error
	UpsertRow(context.Context, store.RowWrite) error
	PatchRow(context.Context, store.RowWrite) error
	SoftDeleteRow(context.Context, schema.Table, string, string, time.Time) error
	Ping(ctx context.Context) error
}

type touchThrottle interface {
	Allow(context.Context, string) (bool, error)
	Reset(context.Context, string) error
	Ping(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	throttle touchThrottle
	schema   schema.Definition
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		schema: schema.Default(),
		now:    time.Now,
	}
}

// NewWithThrottle rate-limits last_used_at writes through Redis.
func NewWithThrottle(cfg config.Config, dataStore *store.PostgresStore, throttle *keyusage.RedisThrottle) *Service {
	svc := New(cfg, dataStore)
	svc.throttle = throttle
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingThrottle checks the touch throttle. ok is false when none is configured.
func (s *Service) PingThrottle(ctx context.Context) (ok bool, err error) {
	if s.throttle == nil {
		return false, nil
	}
	return true, s.throttle.Ping(ctx)
}

func (s *Service) AnonKey() string {
	return s.cfg.AnonKey
}

// ExchangeAPIKey trades a ctx_ key for a one hour access token.
func (s *Service) ExchangeAPIKey(ctx context.Context, apiKey string) (TokenGrant, error) {
	secret, err := auth.ParseAPIKey(apiKey)
	if err != nil {
		return TokenGrant{}, errMalformedKey()
	}
	if s.cfg.JWTSecret == "" {
		log.Printf("agent token exchange refused: CTX_JWT_SECRET is not configured")
		return TokenGrant{}, errSigningMisconfigured()
	}

	agent, err := s.lookupAgent(ctx, secret)
	if err != nil {
		return TokenGrant{}, err
	}

	now := s.now()
	s.touchAgent(ctx, agent.ID, now)

	token, expiresAt, err := auth.IssueAccessToken([]byte(s.cfg.JWTSecret), auth.IssueInput{
		TenantID: agent.UserID,
		AgentID:  agent.ID,
		Issuer:   s.cfg.AuthIssuer,
		TokenID:  util.NewID("jti"),
		IssuedAt: now,
	})
	if err != nil {
		if errors.Is(err, auth.ErrSigningKeyMissing) {
			return TokenGrant{}, errSigningMisconfigured()
		}
		return TokenGrant{}, err
	}

	return TokenGrant{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    agent.UserID,
		AgentID:   agent.ID,
	}, nil
}

// ValidateAPIKey resolves a key to its identity without minting a token.
func (s *Service) ValidateAPIKey(ctx context.Context, apiKey string) (KeyInfo, error) {
	secret, err := auth.ParseAPIKey(apiKey)
	if err != nil {
		return KeyInfo{}, errMalformedKey()
	}
	agent, err := s.lookupAgent(ctx, secret)
	if err != nil {
		return KeyInfo{}, err
	}
	s.touchAgent(ctx, agent.ID, s.now())

	permissions := agent.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	return KeyInfo{
		UserID:      agent.UserID,
		AgentID:     agent.ID,
		Permissions: permissions,
	}, nil
}

func (s *Service) lookupAgent(ctx context.Context, secret string) (store.Agent, error) {
	agent, err := s.store.FindActiveAgentByKeyHash(ctx, auth.HashAPIKeySecret(secret))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Agent{}, errInvalidKey()
		}
		return store.Agent{}, err
	}
	if !agent.Active() {
		return store.Agent{}, errInvalidKey()
	}
	return agent, nil
}

// touchAgent is best effort: failures are logged and never block the caller.
// With a throttle, last_used_at is written at most once per interval, so it
// is accurate to the throttle interval rather than to the request.
func (s *Service) touchAgent(ctx context.Context, agentID string, at time.Time) {
	claimed := false
	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, agentID)
		if err != nil {
			log.Printf("touch throttle unavailable for agent %s: %v", agentID, err)
		} else if !allowed {
			return
		}
		claimed = err == nil
	}
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.TouchAgentLastUsed(touchCtx, agentID, at); err != nil {
		log.Printf("touch last_used_at for agent %s: %v", agentID, err)
		if claimed {
			// Release the slot so the next success retries the write.
			if err := s.throttle.Reset(touchCtx, agentID); err != nil {
				log.Printf("release touch throttle for agent %s: %v", agentID, err)
			}
		}
	}
}

// ApplyWrite performs one remote write on behalf of the token's agent.
func (s *Service) ApplyWrite(ctx context.Context, accessToken, tableName string, in WriteInput) error {
	claims, err := auth.ParseAccessToken([]byte(s.cfg.JWTSecret), accessToken, s.now())
	if err != nil {
		if errors.Is(err, auth.ErrSigningKeyMissing) {
			return errSigningMisconfigured()
		}
		return errUnauthorized()
	}

	agent, err := s.store.GetAgent(ctx, claims.AgentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errUnauthorized()
		}
		return err
	}
	if !agent.Active() || agent.UserID != claims.Subject {
		return errUnauthorized()
	}
	if !rbac.Can(rbac.Normalize(agent.Permissions), rbac.ActionWrite) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Agent lacks write permission", nil)
	}

	table, err := s.schema.Table(tableName)
	if err != nil {
		return domainError(http.StatusNotFound, "UNKNOWN_TABLE", "Unknown table", map[string]any{"table": tableName})
	}
	rowID := strings.TrimSpace(in.ID)
	if rowID == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil)
	}
	if err := checkAttribution(in.Row, rowID, claims); err != nil {
		return err
	}

	switch in.Op {
	case OpUpsert, OpUpdate:
		if err := s.schema.ValidateColumns(table.Name, in.Row); err != nil {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		write := store.RowWrite{
			Table:   table.Name,
			ID:      rowID,
			UserID:  claims.Subject,
			Source:  sourceOf(in.Row),
			AgentID: claims.AgentID,
			Data:    schema.ApplicationValues(in.Row),
		}
		if in.Op == OpUpsert {
			err = s.store.UpsertRow(ctx, write)
		} else {
			err = s.store.PatchRow(ctx, write)
		}
	case OpSoftDelete:
		deletedAt, derr := deletedAtOf(in.Row, s.now())
		if derr != nil {
			return derr
		}
		err = s.store.SoftDeleteRow(ctx, table.Name, rowID, claims.Subject, deletedAt)
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported op", map[string]any{"op": in.Op})
	}
	if errors.Is(err, store.ErrRowOwnedElsewhere) {
		return domainError(http.StatusConflict, "ROW_CONFLICT", "Row id belongs to another tenant", map[string]any{"id": rowID})
	}
	return err
}

// checkAttribution rejects rows that claim a different row, tenant or agent
// than the verified token.
func checkAttribution(row map[string]any, rowID string, claims auth.AccessClaims) error {
	mismatch := func(column, want string) bool {
		value, ok := row[column]
		if !ok || value == nil {
			return false
		}
		got, isString := value.(string)
		return !isString || got != want
	}
	if mismatch(schema.ColumnID, rowID) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "row id does not match", nil)
	}
	if mismatch(schema.ColumnUserID, claims.Subject) || mismatch(schema.ColumnAgentID, claims.AgentID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Row attribution does not match token", nil)
	}
	return nil
}

func sourceOf(row map[string]any) string {
	if source, ok := row[schema.ColumnSource].(string); ok && source != "" {
		return source
	}
	return SourceAgent
}

// deletedAtOf only accepts deleted_at so a soft delete cannot smuggle other
// column changes.
func deletedAtOf(row map[string]any, now time.Time) (time.Time, error) {
	for key := range row {
		if key != schema.ColumnDeletedAt && key != schema.ColumnID {
			return time.Time{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "soft_delete only sets deleted_at", map[string]any{"column": key})
		}
	}
	raw, ok := row[schema.ColumnDeletedAt].(string)
	if !ok || raw == "" {
		return now, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "deleted_at must be RFC3339", nil)
	}
	return parsed, nil
}
