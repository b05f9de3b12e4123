package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event type names appended by the engine.
const (
	MissionCreated    = "mission.created"
	MissionUpdated    = "mission.updated"
	MissionStarted    = "mission.started"
	MissionCompleted  = "mission.completed"
	MissionReverted   = "mission.reverted"
	MissionDeleted    = "mission.deleted"
	BreakdownAttached = "mission.breakdown_attached"
	SubtaskUpdated    = "subtask.updated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, ownerID, missionID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,owner_id,mission_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, ownerID, missionID, actorID, string(data))
	return err
}
