package store

import (
	"time"

	"contextsync/internal/schema"
)

// Agent is one entry of the API key registry. UserID is the tenant the
// agent acts for.
type Agent struct {
	ID          string
	UserID      string
	Name        string
	APIKeyHash  string
	Permissions []string
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// Active reports whether the key may still authenticate.
func (a Agent) Active() bool {
	return a.RevokedAt == nil
}

// Row is a synced row as stored remotely. Application columns live in Data.
type Row struct {
	Table     schema.Table
	ID        string
	UserID    string
	Source    string
	AgentID   string
	Data      map[string]any
	DeletedAt *time.Time
}

// RowWrite carries the attribution stamped on every upsert or patch.
type RowWrite struct {
	Table   schema.Table
	ID      string
	UserID  string
	Source  string
	AgentID string
	Data    map[string]any
}
