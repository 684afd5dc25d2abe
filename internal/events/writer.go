package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	DivisionCreated = "division.created"
	DivisionUpdated = "division.updated"
	DivisionDeleted = "division.deleted"
	GoalCreated     = "goal.created"
	GoalUpdated     = "goal.updated"
	GoalDeleted     = "goal.deleted"
	GoalProgress    = "goal.progress_recomputed"
	TaskCreated     = "task.created"
	TaskUpdated     = "task.updated"
	TaskDeleted     = "task.deleted"
	UserCreated     = "user.created"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records a mutation inside the caller's transaction so the audit row
// commits or rolls back with it.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind string, entityID, actorID int64, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullableID(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
