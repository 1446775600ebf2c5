package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the activity log.
const (
	TeamCreated      = "team.created"
	TeamRenamed      = "team.renamed"
	InviteCreated    = "invite.created"
	InviteRedeemed   = "invite.redeemed"
	MemberAdded      = "member.added"
	MemberRemoved    = "member.removed"
	ProjectCreated   = "project.created"
	ProjectUpdated   = "project.updated"
	ProjectArchived  = "project.archived"
	ProjectRestored  = "project.unarchived"
	ProjectDeleted   = "project.deleted"
	TagCreated       = "tag.created"
	TagDeleted       = "tag.deleted"
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	TaskStatus       = "task.status_changed"
	TaskTagged       = "task.tags_set"
	TaskArchived     = "task.archived"
	TaskUnarchived   = "task.unarchived"
	TaskDeleted      = "task.deleted"
	SubtaskAdded     = "subtask.added"
	SubtaskUpdated   = "subtask.updated"
	SubtaskCompleted = "subtask.completion_changed"
	SubtaskRemoved   = "subtask.removed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Scope locates an event within a team and optionally a project.
type Scope struct {
	TeamID    string
	ProjectID string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, scope Scope, entityKind, entityID, actorID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,team_id,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, evtType, nullable(scope.TeamID), nullable(scope.ProjectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
