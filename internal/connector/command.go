package connector

import (
	"fmt"
	"time"

	"contextsync/internal/auth"
	"contextsync/internal/localdb"
	"contextsync/internal/schema"
)

// SourceAgent marks rows written by an agent rather than the tenant.
const SourceAgent = "ai"

type Kind int

const (
	Upsert Kind = iota + 1
	Update
	SoftDelete
)

func (k Kind) String() string {
	switch k {
	case Upsert:
		return "upsert"
	case Update:
		return "update"
	case SoftDelete:
		return "soft_delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one remote write.
type Command struct {
	Kind  Kind
	Table schema.Table
	RowID string
	Row   map[string]any
}

// CommandFor translates a queued mutation into the remote write that applies
// it, stamped with identity. A DELETE becomes a soft delete at now and its
// data is discarded.
func CommandFor(m localdb.Mutation, identity auth.Identity, now time.Time) (Command, error) {
	cmd := Command{Table: m.Table, RowID: m.RowID}
	switch m.Op {
	case localdb.OpPut:
		cmd.Kind = Upsert
		cmd.Row = copyRow(m.Data)
		cmd.Row[schema.ColumnID] = m.RowID
		cmd.Row[schema.ColumnUserID] = identity.TenantID
		cmd.Row[schema.ColumnSource] = SourceAgent
		cmd.Row[schema.ColumnAgentID] = identity.AgentID
	case localdb.OpPatch:
		cmd.Kind = Update
		cmd.Row = copyRow(m.Data)
		cmd.Row[schema.ColumnSource] = SourceAgent
		cmd.Row[schema.ColumnAgentID] = identity.AgentID
	case localdb.OpDelete:
		cmd.Kind = SoftDelete
		cmd.Row = map[string]any{schema.ColumnDeletedAt: now.UTC().Format(time.RFC3339Nano)}
	default:
		return Command{}, fmt.Errorf("unsupported mutation op %q", m.Op)
	}
	return cmd, nil
}

func copyRow(data map[string]any) map[string]any {
	row := make(map[string]any, len(data)+4)
	for key, value := range data {
		row[key] = value
	}
	return row
}
